// Package syncer runs queued Drive and Sheets sync jobs in the background.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/notify"
	"gitlab.com/yelinaung/receipt-tracker/internal/repository"
	"gitlab.com/yelinaung/receipt-tracker/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotConnected means the user's profile holds no Google access token.
	ErrNotConnected = errors.New("google account not connected")
	// ErrNoSpreadsheet means a Sheets job ran for a user without a spreadsheet.
	ErrNoSpreadsheet = errors.New("no spreadsheet configured")
	// ErrUnknownTarget means the job target is neither drive nor sheets.
	ErrUnknownTarget = errors.New("unknown sync target")
)

// Queue is the persistent job queue.
type Queue interface {
	Claim(ctx context.Context, limit int, now time.Time) ([]models.SyncJob, error)
	Enqueue(ctx context.Context, receiptID, userID uuid.UUID, target string) (*models.SyncJob, error)
	MarkSucceeded(ctx context.Context, id int64, resultURL string) error
	MarkRetry(ctx context.Context, id int64, lastError string, nextRunAt time.Time) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	ResetStale(ctx context.Context, cutoff time.Time) (int, error)
}

// ReceiptStore loads receipts and records their Drive file.
type ReceiptStore interface {
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Receipt, error)
	SetDriveFileID(ctx context.Context, id uuid.UUID, fileID string) error
}

// ProfileReader loads a user's Google configuration.
type ProfileReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// DriveUploader copies an image into the user's Drive.
type DriveUploader interface {
	Upload(ctx context.Context, in google.DriveUpload) (*google.DriveResult, error)
}

// SheetsAppender appends a row to the user's month tab.
type SheetsAppender interface {
	Session(accessToken string, userID uuid.UUID) *google.Session
	AppendReceipt(ctx context.Context, sess *google.Session, spreadsheetID string, row ledger.Row) error
}

// Notifier tells the user how a job ended.
type Notifier interface {
	SyncFinished(ctx context.Context, chatID int64, out notify.SyncOutcome) error
}

// Deps are the collaborators of a Worker. Notifier is optional.
type Deps struct {
	Queue    Queue
	Receipts ReceiptStore
	Profiles ProfileReader
	Drive    DriveUploader
	Sheets   SheetsAppender
	Notifier Notifier
}

// Options tune the worker pool.
type Options struct {
	Workers      int
	MaxAttempts  int
	PollInterval time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	// StaleAfter is how long a job may stay running before it is requeued.
	StaleAfter time.Duration
	JobTimeout time.Duration
}

const (
	defaultBaseBackoff = 30 * time.Second
	defaultMaxBackoff  = 30 * time.Minute
	defaultStaleAfter  = 10 * time.Minute
	defaultJobTimeout  = 2 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleAfter
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = defaultJobTimeout
	}
	return o
}

// Worker claims sync jobs and mirrors receipts into Drive and Sheets.
type Worker struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a Worker.
func New(deps Deps, opts Options) *Worker {
	return &Worker{deps: deps, opts: opts.withDefaults(), now: time.Now}
}

// Run polls the queue with Options.Workers concurrent pollers and requeues
// stale jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Log.Info().
		Int("workers", w.opts.Workers).
		Int("max_attempts", w.opts.MaxAttempts).
		Dur("poll_interval", w.opts.PollInterval).
		Msg("Sync workers started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Workers; i++ {
		g.Go(func() error {
			w.poll(ctx)
			return nil
		})
	}
	g.Go(func() error {
		w.staleLoop(ctx)
		return nil
	})

	err := g.Wait()
	logger.Log.Info().Msg("Sync workers stopped")
	return err
}

func (w *Worker) poll(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain the queue before sleeping again.
		for {
			n, err := w.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Log.Error().Err(err).Msg("Failed to claim sync jobs")
			}
			if n == 0 || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) staleLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StaleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.deps.Queue.ResetStale(ctx, w.now().Add(-w.opts.StaleAfter))
			if err != nil {
				logger.Log.Error().Err(err).Msg("Failed to requeue stale sync jobs")
				continue
			}
			if n > 0 {
				logger.Log.Warn().Int("count", n).Msg("Requeued stale sync jobs")
			}
		}
	}
}

// RunOnce claims at most one job and processes it. Returns the number of
// jobs processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.deps.Queue.Claim(ctx, 1, w.now())
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return len(jobs), nil
}

// jobRun carries what a job loaded, for the outcome notification.
type jobRun struct {
	job     models.SyncJob
	receipt *models.Receipt
	profile *models.Profile
}

func (w *Worker) process(ctx context.Context, job models.SyncJob) {
	log := logger.ForUser(job.UserID.String()).With().
		Int64("job_id", job.ID).
		Str("target", job.Target).
		Int("attempt", job.Attempts).
		Logger()

	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	defer cancel()

	jobCtx, span := telemetry.StartSpan(jobCtx, "sync."+job.Target,
		attribute.Int64("sync.job_id", job.ID),
		attribute.Int("sync.attempt", job.Attempts),
	)
	run := &jobRun{job: job}
	resultURL, err := w.execute(jobCtx, run)
	telemetry.EndSpan(span, err)

	// Outcome writes use the parent context so a job timeout still records.
	if err == nil {
		if markErr := w.deps.Queue.MarkSucceeded(ctx, job.ID, resultURL); markErr != nil {
			log.Error().Err(markErr).Msg("Failed to record sync success")
		}
		telemetry.RecordSyncJob(ctx, job.Target, models.SyncJobSucceeded)
		log.Info().Msg("Sync job succeeded")
		w.notify(ctx, run, notify.SyncOutcome{Success: true, Link: resultURL, Final: true})
		return
	}

	message := err.Error()
	if Permanent(err) || job.Attempts >= w.opts.MaxAttempts {
		if markErr := w.deps.Queue.MarkFailed(ctx, job.ID, message); markErr != nil {
			log.Error().Err(markErr).Msg("Failed to record sync failure")
		}
		telemetry.RecordSyncJob(ctx, job.Target, models.SyncJobFailed)
		log.Error().Err(err).Msg("Sync job failed")
		w.notify(ctx, run, notify.SyncOutcome{Error: message, Final: true})
		if job.Target == models.SyncTargetDrive {
			w.queueSheetsWithoutLink(ctx, run, &log)
		}
		return
	}

	next := w.now().Add(Backoff(job.Attempts, w.opts.BaseBackoff, w.opts.MaxBackoff))
	if markErr := w.deps.Queue.MarkRetry(ctx, job.ID, message, next); markErr != nil {
		log.Error().Err(markErr).Msg("Failed to reschedule sync job")
	}
	telemetry.RecordSyncJob(ctx, job.Target, "retry")
	log.Warn().Err(err).Time("next_run_at", next).Msg("Sync job will be retried")
}

func (w *Worker) execute(ctx context.Context, run *jobRun) (string, error) {
	job := run.job

	receipt, err := w.deps.Receipts.GetByID(ctx, job.UserID, job.ReceiptID)
	if err != nil {
		return "", fmt.Errorf("failed to load receipt: %w", err)
	}
	run.receipt = receipt

	profile, err := w.deps.Profiles.Get(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load profile: %w", err)
	}
	run.profile = profile
	if !profile.GoogleConnected() {
		return "", ErrNotConnected
	}

	switch job.Target {
	case models.SyncTargetDrive:
		return w.syncDrive(ctx, receipt, profile)
	case models.SyncTargetSheets:
		return w.syncSheets(ctx, receipt, profile)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, job.Target)
	}
}

// syncDrive uploads the receipt image unless an earlier attempt already
// did, then queues the Sheets row so it can link to the file.
func (w *Worker) syncDrive(ctx context.Context, receipt *models.Receipt, profile *models.Profile) (string, error) {
	var link string

	switch {
	case receipt.DriveFileID != nil && *receipt.DriveFileID != "":
		link = ledger.DriveFileLink(*receipt.DriveFileID)
	case receipt.ImageURL == "":
		// Nothing to upload; the Sheets row is still written.
	default:
		res, err := w.deps.Drive.Upload(ctx, google.DriveUpload{
			ImageURL:    receipt.ImageURL,
			FileName:    FileName(receipt),
			AccessToken: profile.GoogleAccessToken,
			FolderName:  profile.DriveFolderName,
			UserID:      receipt.UserID.String(),
		})
		if err != nil {
			return "", err
		}
		if err := w.deps.Receipts.SetDriveFileID(ctx, receipt.ID, res.FileID); err != nil {
			return "", err
		}
		id := res.FileID
		receipt.DriveFileID = &id
		link = res.WebViewLink
	}

	if profile.SheetsID != "" {
		if _, err := w.deps.Queue.Enqueue(ctx, receipt.ID, receipt.UserID, models.SyncTargetSheets); err != nil {
			return "", err
		}
	}
	return link, nil
}

// queueSheetsWithoutLink still writes the ledger row after Drive gave up.
// The row then has no image link.
func (w *Worker) queueSheetsWithoutLink(ctx context.Context, run *jobRun, log *zerolog.Logger) {
	if run.receipt == nil || run.profile == nil || run.profile.SheetsID == "" || !run.profile.GoogleConnected() {
		return
	}
	if _, err := w.deps.Queue.Enqueue(ctx, run.receipt.ID, run.receipt.UserID, models.SyncTargetSheets); err != nil {
		log.Error().Err(err).Msg("Failed to queue sheets sync after drive failure")
		return
	}
	log.Info().Msg("Drive sync failed, sheets row queued without image link")
}

func (w *Worker) syncSheets(ctx context.Context, receipt *models.Receipt, profile *models.Profile) (string, error) {
	if profile.SheetsID == "" {
		return "", ErrNoSpreadsheet
	}

	var link string
	if receipt.DriveFileID != nil {
		link = ledger.DriveFileLink(*receipt.DriveFileID)
	}

	sess := w.deps.Sheets.Session(profile.GoogleAccessToken, receipt.UserID)
	err := w.deps.Sheets.AppendReceipt(ctx, sess, profile.SheetsID, ledger.Row{
		Date:      receipt.Date,
		Merchant:  receipt.MerchantName,
		Amount:    receipt.Amount,
		Category:  receipt.Category,
		DriveLink: link,
	})
	if err != nil {
		return "", err
	}
	return google.SpreadsheetURL(profile.SheetsID), nil
}

func (w *Worker) notify(ctx context.Context, run *jobRun, out notify.SyncOutcome) {
	if w.deps.Notifier == nil || run.profile == nil || run.profile.TelegramChatID == nil {
		return
	}
	out.Target = run.job.Target
	out.Receipt = run.receipt
	out.Attempts = run.job.Attempts
	// Delivery problems are logged by the notifier.
	_ = w.deps.Notifier.SyncFinished(ctx, *run.profile.TelegramChatID, out)
}

// Permanent reports whether retrying err cannot help.
func Permanent(err error) bool {
	var disabled *google.APIDisabledError
	switch {
	case errors.As(err, &disabled),
		errors.Is(err, google.ErrReconnect),
		errors.Is(err, google.ErrOAuthNotConfigured),
		errors.Is(err, google.ErrInvalidInput),
		errors.Is(err, google.ErrSpreadsheetNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrNoSpreadsheet),
		errors.Is(err, ErrUnknownTarget):
		return true
	}
	return false
}

// Backoff returns the delay before the next attempt after attempt failures.
// It doubles from base and is capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

const maxMerchantInFileName = 40

// FileName names the Drive copy of a receipt image, for example
// "2025-11-28_Shell_1a2b3c4d.jpg".
func FileName(r *models.Receipt) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(r.ImageURL, "?", 2)[0]))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif":
	default:
		ext = ".jpg"
	}

	var b strings.Builder
	dash := false
	for _, c := range r.MerchantName {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			b.WriteRune(c)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	merchant := []rune(strings.TrimRight(b.String(), "-"))
	if len(merchant) > maxMerchantInFileName {
		merchant = merchant[:maxMerchantInFileName]
	}
	name := string(merchant)
	if name == "" {
		name = "receipt"
	}

	return fmt.Sprintf("%s_%s_%s%s", r.DateString(), name, r.ID.String()[:8], ext)
}
