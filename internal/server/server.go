// Package server exposes the receipt tracker over HTTP.
package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/importer"
	"gitlab.com/yelinaung/receipt-tracker/internal/ingest"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/repository"
	"gitlab.com/yelinaung/receipt-tracker/internal/uploadsession"
)

// Ingestor turns receipt images into stored receipts.
type Ingestor interface {
	Ingest(ctx context.Context, userID uuid.UUID, image []byte, contentType string) (*ingest.Result, error)
	Process(ctx context.Context, userID uuid.UUID, imageURL string) (*ingest.Result, error)
}

// Sessions manages phone upload sessions.
type Sessions interface {
	Create(ctx context.Context, userID uuid.UUID) (*models.UploadSession, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.UploadSession, error)
	CheckConsumable(ctx context.Context, rawID string) error
	Consume(ctx context.Context, rawID string, data []byte, contentType string) (*models.UploadSession, error)
	Watch(ctx context.Context, userID, id uuid.UUID) (<-chan uploadsession.Event, error)
}

// Drive uploads images to Google Drive.
type Drive interface {
	Session(accessToken string, userID uuid.UUID) *google.Session
	Upload(ctx context.Context, in google.DriveUpload) (*google.DriveResult, error)
	EnsureFolder(ctx context.Context, sess *google.Session, name string) (string, error)
}

// Sheets writes receipts to Google Sheets.
type Sheets interface {
	Session(accessToken string, userID uuid.UUID) *google.Session
	AppendReceipt(ctx context.Context, sess *google.Session, spreadsheetID string, row ledger.Row) error
	CreateSpreadsheet(ctx context.Context, sess *google.Session, title string) (*google.Spreadsheet, error)
}

// Migrator imports an existing spreadsheet.
type Migrator interface {
	Migrate(ctx context.Context, sess *google.Session, spreadsheetID string, userID uuid.UUID) (*importer.Result, error)
}

// ReceiptStore reads and updates receipts.
type ReceiptStore interface {
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Receipt, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Receipt, error)
	UpdateCategory(ctx context.Context, userID, id uuid.UUID, category string) error
}

// CategoryStore manages user categories.
type CategoryStore interface {
	SeedDefaults(ctx context.Context, userID uuid.UUID, defaults []repository.DefaultCategory) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Category, error)
	Create(ctx context.Context, userID uuid.UUID, name, emoji string) (*models.Category, error)
	Delete(ctx context.Context, userID, id uuid.UUID) (int, error)
}

// ProfileStore manages sync configuration.
type ProfileStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	Ensure(ctx context.Context, userID uuid.UUID) (bool, error)
	SaveGoogleTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string) error
	SaveSetup(ctx context.Context, userID uuid.UUID, sheetsID, folderName, mode string) error
	SetTelegramChatID(ctx context.Context, userID uuid.UUID, chatID *int64) error
}

// SyncJobs reports and re-queues background syncs.
type SyncJobs interface {
	ListByReceipt(ctx context.Context, userID, receiptID uuid.UUID) ([]models.SyncJob, error)
	RetryFailed(ctx context.Context, userID, receiptID uuid.UUID) (int, error)
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the handlers. DB is optional.
type Deps struct {
	Ingestor   Ingestor
	Sessions   Sessions
	Drive      Drive
	Sheets     Sheets
	Migrator   Migrator
	Receipts   ReceiptStore
	Categories CategoryStore
	Profiles   ProfileStore
	SyncJobs   SyncJobs
	DB         Pinger
}

// Options configure the server.
type Options struct {
	JWTSecret        string
	PublicBaseURL    string
	MaxUploadBytes   int64
	DefaultFolder    string
	SpreadsheetTitle string
}

const (
	defaultMaxUploadBytes   = 10 << 20
	defaultSpreadsheetTitle = "Receipt Tracker"
	// multipartOverhead covers form boundaries and headers around the file.
	multipartOverhead = 1 << 20
)

// Server holds the HTTP handlers.
type Server struct {
	deps      Deps
	opts      Options
	now       func() time.Time
	onboarded sync.Map
}

// New creates a Server.
func New(deps Deps, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.SpreadsheetTitle == "" {
		opts.SpreadsheetTitle = defaultSpreadsheetTitle
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	registerValidators()
	return &Server{deps: deps, opts: opts, now: time.Now}
}

// Handler builds the router.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(), recovery())

	r.GET("/healthz", s.health)

	// The phone has no bearer token; the session id is the credential.
	r.POST("/api/phone-upload", s.phoneUpload)

	api := r.Group("/api", authenticate([]byte(s.opts.JWTSecret)), s.onboard())
	{
		api.POST("/receipts", s.uploadReceipt)
		api.POST("/receipts/process", s.processReceipt)
		api.GET("/receipts", s.listReceipts)
		api.GET("/receipts/:id", s.getReceipt)
		api.PATCH("/receipts/:id/category", s.updateReceiptCategory)
		api.GET("/receipts/:id/sync", s.syncStatus)
		api.POST("/receipts/:id/sync/retry", s.retrySync)

		api.POST("/upload-sessions", s.createSession)
		api.GET("/upload-sessions/:id", s.getSession)
		api.GET("/upload-sessions/:id/events", s.sessionEvents)

		api.POST("/drive/upload", s.driveUpload)
		api.POST("/sheets/sync", s.sheetsSync)
		api.POST("/migrate", s.migrate)
		api.POST("/setup", s.setup)

		api.GET("/profile", s.getProfile)
		api.PUT("/profile/google", s.connectGoogle)
		api.PUT("/profile/telegram", s.linkTelegram)

		api.GET("/categories", s.listCategories)
		api.POST("/categories", s.createCategory)
		api.DELETE("/categories/:id", s.deleteCategory)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
