package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gitlab.com/yelinaung/receipt-tracker/internal/database"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

// UploadSessionChannel is the NOTIFY channel carrying consumed session ids.
const UploadSessionChannel = "upload_sessions"

// UploadSessionRepository handles upload session operations.
type UploadSessionRepository struct {
	db database.PGXDB
}

// NewUploadSessionRepository creates a new UploadSessionRepository.
func NewUploadSessionRepository(db database.PGXDB) *UploadSessionRepository {
	return &UploadSessionRepository{db: db}
}

// Create inserts a pending session.
func (r *UploadSessionRepository) Create(ctx context.Context, s *models.UploadSession) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO upload_sessions (id, user_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, s.ID, s.UserID, models.UploadSessionPending, s.ExpiresAt, s.CreatedAt).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create upload session: %w", err)
	}
	s.Status = models.UploadSessionPending
	return nil
}

// Get retrieves a session by id regardless of owner.
func (r *UploadSessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	var s models.UploadSession
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, status, expires_at, file_url, created_at
		FROM upload_sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.Status, &s.ExpiresAt, &s.FileURL, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	return &s, nil
}

// MarkUploaded transitions a pending, unexpired session to uploaded and
// notifies listeners. Returns false when the session was not consumable,
// so at most one caller ever wins.
func (r *UploadSessionRepository) MarkUploaded(ctx context.Context, id uuid.UUID, fileURL string, now time.Time) (bool, error) {
	var notified string
	err := r.db.QueryRow(ctx, `
		WITH updated AS (
			UPDATE upload_sessions SET status = $2, file_url = $3
			WHERE id = $1 AND status = $4 AND expires_at > $5
			RETURNING id
		)
		SELECT n.id::text FROM (SELECT id, pg_notify($6, id::text) FROM updated) n
	`, id, models.UploadSessionUploaded, fileURL, models.UploadSessionPending, now, UploadSessionChannel).Scan(&notified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark upload session uploaded: %w", err)
	}
	return true, nil
}

// ExpirePending marks pending sessions whose expiry is before cutoff as
// expired. Rows are kept so a late consume still reads as expired.
func (r *UploadSessionRepository) ExpirePending(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE upload_sessions SET status = $1
		WHERE status = $2 AND expires_at < $3
	`, models.UploadSessionExpired, models.UploadSessionPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire upload sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
