// Package ingest turns receipt images into persisted, categorized receipts.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"gitlab.com/yelinaung/receipt-tracker/internal/category"
	"gitlab.com/yelinaung/receipt-tracker/internal/gemini"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/storage"
	"gitlab.com/yelinaung/receipt-tracker/internal/telemetry"
)

var (
	// ErrEmptyImage is returned when no image bytes were supplied.
	ErrEmptyImage = errors.New("image is empty")
	// ErrStorage wraps object storage failures. No AI call has been made.
	ErrStorage = errors.New("failed to store receipt image")
	// ErrFetch wraps failures downloading an image by URL.
	ErrFetch = errors.New("failed to download receipt image")
	// ErrExtraction wraps AI call failures other than unreadable output.
	ErrExtraction = errors.New("receipt extraction failed")
	// ErrSave wraps receipt insert failures.
	ErrSave = errors.New("failed to save receipt")
)

// ObjectStore keeps uploaded images.
type ObjectStore interface {
	Put(ctx context.Context, userID uuid.UUID, contentType string, data []byte) (*storage.Object, error)
}

// Extractor reads receipt fields from an image.
type Extractor interface {
	ExtractReceipt(ctx context.Context, image []byte, mimeType string) (*gemini.ReceiptData, error)
}

// ReceiptStore persists receipts.
type ReceiptStore interface {
	Create(ctx context.Context, receipt *models.Receipt) error
}

// CategoryLister returns a user's categories.
type CategoryLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Category, error)
}

// ProfileReader returns a user's sync configuration.
type ProfileReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// SyncQueue schedules background mirroring of a receipt.
type SyncQueue interface {
	Enqueue(ctx context.Context, receiptID, userID uuid.UUID, target string) (*models.SyncJob, error)
}

// ImageFetcher downloads an image by URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Deps are the collaborators of a Pipeline. Categories, Profiles, Queue and
// Fetcher are optional.
type Deps struct {
	Store      ObjectStore
	Extractor  Extractor
	Receipts   ReceiptStore
	Categories CategoryLister
	Profiles   ProfileReader
	Queue      SyncQueue
	Fetcher    ImageFetcher
}

// Extracted is the normalized AI output saved with the receipt.
type Extracted struct {
	MerchantName string `json:"merchant_name"`
	Amount       string `json:"amount"`
	Date         string `json:"date"`
	Category     string `json:"category"`
}

// Result is the outcome of one ingestion.
type Result struct {
	Receipt   *models.Receipt
	Extracted Extracted
	// DateFallback is set when the extracted date was unreadable and today
	// was used instead.
	DateFallback bool
	// SyncQueued is set when a Drive sync job was scheduled.
	SyncQueued bool
}

// Pipeline runs store, extract, normalize, insert and sync scheduling.
type Pipeline struct {
	deps Deps
	now  func() time.Time
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps, now: time.Now}
}

// Ingest stores image under the user's namespace and then analyzes it.
// A storage failure aborts before any AI call.
func (p *Pipeline) Ingest(ctx context.Context, userID uuid.UUID, image []byte, contentType string) (*Result, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	contentType = DetectContentType(image, contentType)

	obj, err := p.deps.Store.Put(ctx, userID, contentType, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return p.analyze(ctx, userID, obj.URL, image, contentType, "upload")
}

// Process downloads an already stored image and analyzes it.
func (p *Pipeline) Process(ctx context.Context, userID uuid.UUID, imageURL string) (*Result, error) {
	if p.deps.Fetcher == nil {
		return nil, fmt.Errorf("%w: no image fetcher configured", ErrFetch)
	}

	image, contentType, err := p.deps.Fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	return p.analyze(ctx, userID, imageURL, image, DetectContentType(image, contentType), "url")
}

// Analyze extracts and saves a receipt whose image is already stored at
// imageURL and whose bytes the caller still holds.
func (p *Pipeline) Analyze(ctx context.Context, userID uuid.UUID, imageURL string, image []byte, contentType string) (*Result, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	return p.analyze(ctx, userID, imageURL, image, DetectContentType(image, contentType), "phone")
}

func (p *Pipeline) analyze(
	ctx context.Context,
	userID uuid.UUID,
	imageURL string,
	image []byte,
	contentType string,
	source string,
) (*Result, error) {
	log := logger.ForUser(userID.String())

	extractCtx, span := telemetry.StartSpan(ctx, "ingest.extract",
		attribute.String("ingest.source", source),
		attribute.String("ingest.content_type", contentType),
	)
	data, err := p.deps.Extractor.ExtractReceipt(extractCtx, image, contentType)
	telemetry.EndSpan(span, err)
	if err != nil {
		log.Error().Err(err).Msg("Receipt extraction failed")
		if errors.Is(err, gemini.ErrParseTimeout) || errors.Is(err, gemini.ErrNoData) || errors.Is(err, gemini.ErrInvalidResponse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	now := p.now()
	dateStr, dateOK := ledger.NormalizeDate(data.Date, now)
	date, err := time.Parse(time.DateOnly, dateStr)
	if err != nil {
		date = ledger.DateOnly(now)
	}
	if !dateOK {
		log.Warn().Str("raw_date", logger.SanitizeText(data.Date)).Msg("Unreadable receipt date, using today")
	}

	merchant := strings.TrimSpace(data.MerchantName)
	if merchant == "" {
		merchant = models.UnknownMerchant
	}

	categoryName := p.resolveCategory(ctx, userID, data)

	receipt := &models.Receipt{
		UserID:       userID,
		ImageURL:     imageURL,
		MerchantName: merchant,
		Amount:       data.Amount.Round(2),
		Date:         date,
		Category:     categoryName,
	}
	if err := p.deps.Receipts.Create(ctx, receipt); err != nil {
		log.Error().Err(err).Msg("Failed to save receipt")
		return nil, fmt.Errorf("%w: %w", ErrSave, err)
	}

	telemetry.RecordReceiptIngested(ctx, source, 1)
	log.Info().
		Str("receipt_id", receipt.ID.String()).
		Str("merchant", logger.SanitizeText(merchant)).
		Str("amount", receipt.Amount.StringFixed(2)).
		Str("category", categoryName).
		Msg("Receipt saved")

	return &Result{
		Receipt: receipt,
		Extracted: Extracted{
			MerchantName: merchant,
			Amount:       receipt.Amount.StringFixed(2),
			Date:         dateStr,
			Category:     categoryName,
		},
		DateFallback: !dateOK,
		SyncQueued:   p.scheduleSync(ctx, receipt),
	}, nil
}

// resolveCategory applies the taxonomy precedence and then prefers the
// user's own spelling of the category when one matches.
func (p *Pipeline) resolveCategory(ctx context.Context, userID uuid.UUID, data *gemini.ReceiptData) string {
	name := category.Resolve(data.Category, data.MerchantName, data.LineItems)
	if p.deps.Categories == nil {
		return name
	}

	cats, err := p.deps.Categories.ListByUser(ctx, userID)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to load user categories")
		return name
	}
	if match := category.Match(name, cats); match != nil {
		return match.Name
	}
	return name
}

// scheduleSync queues the Drive job for a connected user. Failures are
// logged and never undo the insert.
func (p *Pipeline) scheduleSync(ctx context.Context, receipt *models.Receipt) bool {
	if p.deps.Profiles == nil || p.deps.Queue == nil {
		return false
	}
	log := logger.ForUser(receipt.UserID.String())

	profile, err := p.deps.Profiles.Get(ctx, receipt.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load profile for sync")
		return false
	}
	if !profile.GoogleConnected() {
		return false
	}

	if _, err := p.deps.Queue.Enqueue(ctx, receipt.ID, receipt.UserID, models.SyncTargetDrive); err != nil {
		log.Error().Err(err).Str("receipt_id", receipt.ID.String()).Msg("Failed to enqueue drive sync")
		return false
	}
	return true
}

// DetectContentType returns the declared media type without parameters,
// sniffing image when none or a generic one was declared.
func DetectContentType(image []byte, declared string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared == "" || declared == "application/octet-stream" {
		return http.DetectContentType(image)
	}
	return declared
}
