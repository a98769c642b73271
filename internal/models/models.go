// Package models defines the domain entities for the receipt tracker.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCategory is assigned when no category could be determined.
const DefaultCategory = "Other"

// UncategorizedCategory is used for receipts whose category was deleted or left blank.
const UncategorizedCategory = "Uncategorized"

// UnknownMerchant is used when the merchant name is missing.
const UnknownMerchant = "Unknown"

// MaxCategoryNameLength is the maximum allowed length for category names.
const MaxCategoryNameLength = 50

// Receipt is a persisted, categorized purchase extracted from an image.
type Receipt struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ImageURL     string
	MerchantName string
	Amount       decimal.Decimal
	// Date has no time component; always midnight UTC.
	Date        time.Time
	Category    string
	DriveFileID *string
	Note        *string
	CreatedAt   time.Time
}

// DateString returns the receipt date in YYYY-MM-DD form.
func (r *Receipt) DateString() string {
	return r.Date.Format(time.DateOnly)
}

// Category is a user-owned receipt category.
type Category struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Emoji     string
	IsSystem  bool
	CreatedAt time.Time
}

// UploadSession statuses. A pending session past ExpiresAt is expired even
// before the sweeper records it.
const (
	UploadSessionPending  = "pending"
	UploadSessionUploaded = "uploaded"
	UploadSessionExpired  = "expired"
)

// UploadSession is a short-lived, single-use handle that lets an
// unauthenticated phone attach a file to an authenticated user.
type UploadSession struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Status    string
	ExpiresAt time.Time
	FileURL   *string
	CreatedAt time.Time
}

// IsExpired reports whether the session can no longer be consumed at now.
func (s *UploadSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// EffectiveStatus folds read-time expiry into the stored status.
func (s *UploadSession) EffectiveStatus(now time.Time) string {
	if s.Status == UploadSessionPending && s.IsExpired(now) {
		return UploadSessionExpired
	}
	return s.Status
}

// Setup modes persisted on the profile.
const (
	SetupModeNone    = "none"
	SetupModeNew     = "new"
	SetupModeMigrate = "migrate"
)

// Profile holds per-user Google sync configuration.
type Profile struct {
	UserID             uuid.UUID
	GoogleAccessToken  string
	GoogleRefreshToken string
	SheetsID           string
	DriveFolderName    string
	SetupMode          string
	GoogleConnectedAt  *time.Time
	TelegramChatID     *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GoogleConnected reports whether the profile holds an access token.
func (p *Profile) GoogleConnected() bool {
	return p != nil && p.GoogleAccessToken != ""
}

// Sync targets.
const (
	SyncTargetDrive  = "drive"
	SyncTargetSheets = "sheets"
)

// Sync job statuses.
const (
	SyncJobPending   = "pending"
	SyncJobRunning   = "running"
	SyncJobSucceeded = "succeeded"
	SyncJobFailed    = "failed"
)

// SyncJob is a queued best-effort mirror of a receipt into Drive or Sheets.
type SyncJob struct {
	ID        int64
	ReceiptID uuid.UUID
	UserID    uuid.UUID
	Target    string
	Status    string
	Attempts  int
	LastError *string
	ResultURL *string
	NextRunAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
