package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gitlab.com/yelinaung/receipt-tracker/internal/database"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

// SyncJobRepository stores queued Drive/Sheets sync work.
type SyncJobRepository struct {
	db database.PGXDB
}

// NewSyncJobRepository creates a new SyncJobRepository.
func NewSyncJobRepository(db database.PGXDB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

const syncJobColumns = `id, receipt_id, user_id, target, status, attempts, last_error, result_url, next_run_at, created_at, updated_at`

// Enqueue adds a pending job for a receipt and target.
func (r *SyncJobRepository) Enqueue(ctx context.Context, receiptID, userID uuid.UUID, target string) (*models.SyncJob, error) {
	job, err := scanSyncJob(r.db.QueryRow(ctx, `
		INSERT INTO sync_jobs (receipt_id, user_id, target)
		VALUES ($1, $2, $3)
		RETURNING `+syncJobColumns, receiptID, userID, target))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	return job, nil
}

// Claim marks up to limit runnable jobs as running and returns them.
// Concurrent claimers never receive the same job.
func (r *SyncJobRepository) Claim(ctx context.Context, limit int, now time.Time) ([]models.SyncJob, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE sync_jobs SET status = $1, attempts = attempts + 1, updated_at = $3
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = $2 AND next_run_at <= $3
			ORDER BY next_run_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+syncJobColumns,
		models.SyncJobRunning, models.SyncJobPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim sync jobs: %w", err)
	}
	defer rows.Close()

	return collectSyncJobs(rows)
}

// MarkSucceeded records a successful run.
func (r *SyncJobRepository) MarkSucceeded(ctx context.Context, id int64, resultURL string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET status = $2, result_url = NULLIF($3, ''), last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.SyncJobSucceeded, resultURL)
	if err != nil {
		return fmt.Errorf("failed to mark sync job succeeded: %w", err)
	}
	return nil
}

// MarkRetry puts a job back into the queue to run again at nextRunAt.
func (r *SyncJobRepository) MarkRetry(ctx context.Context, id int64, lastError string, nextRunAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET status = $2, last_error = $3, next_run_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.SyncJobPending, lastError, nextRunAt)
	if err != nil {
		return fmt.Errorf("failed to reschedule sync job: %w", err)
	}
	return nil
}

// MarkFailed records a permanent failure.
func (r *SyncJobRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.SyncJobFailed, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark sync job failed: %w", err)
	}
	return nil
}

// ListByReceipt returns all jobs of a receipt owned by userID, oldest first.
func (r *SyncJobRepository) ListByReceipt(ctx context.Context, userID, receiptID uuid.UUID) ([]models.SyncJob, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+syncJobColumns+` FROM sync_jobs
		WHERE receipt_id = $1 AND user_id = $2
		ORDER BY id
	`, receiptID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync jobs: %w", err)
	}
	defer rows.Close()

	return collectSyncJobs(rows)
}

// RetryFailed re-queues the failed jobs of a receipt. Returns the number requeued.
func (r *SyncJobRepository) RetryFailed(ctx context.Context, userID, receiptID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET status = $3, attempts = 0, next_run_at = NOW(), updated_at = NOW()
		WHERE receipt_id = $1 AND user_id = $2 AND status = $4
	`, receiptID, userID, models.SyncJobPending, models.SyncJobFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to retry sync jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetStale returns jobs stuck in running since before cutoff to the queue.
func (r *SyncJobRepository) ResetStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3
	`, models.SyncJobPending, models.SyncJobRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale sync jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSyncJob(row pgx.Row) (*models.SyncJob, error) {
	var job models.SyncJob
	if err := row.Scan(
		&job.ID, &job.ReceiptID, &job.UserID, &job.Target, &job.Status, &job.Attempts,
		&job.LastError, &job.ResultURL, &job.NextRunAt, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func collectSyncJobs(rows pgx.Rows) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync jobs: %w", err)
	}
	return jobs, nil
}
