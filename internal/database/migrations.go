package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations creates the database schema.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id UUID PRIMARY KEY,
			google_access_token TEXT NOT NULL DEFAULT '',
			google_refresh_token TEXT NOT NULL DEFAULT '',
			sheets_id TEXT NOT NULL DEFAULT '',
			drive_folder_name TEXT NOT NULL DEFAULT '',
			setup_mode TEXT NOT NULL DEFAULT 'none',
			google_connected_at TIMESTAMPTZ,
			telegram_chat_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS categories (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			name TEXT NOT NULL,
			emoji TEXT NOT NULL DEFAULT '',
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS receipts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			merchant_name TEXT NOT NULL,
			amount DECIMAL(12, 2) NOT NULL,
			receipt_date DATE NOT NULL,
			category TEXT NOT NULL DEFAULT 'Other',
			drive_file_id TEXT,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_receipts_user_id ON receipts(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_dedup ON receipts(user_id, receipt_date, merchant_name, amount)`,

		`CREATE TABLE IF NOT EXISTS upload_sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			expires_at TIMESTAMPTZ NOT NULL,
			file_url TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_upload_sessions_expires_at ON upload_sessions(expires_at)`,

		`CREATE TABLE IF NOT EXISTS sync_jobs (
			id BIGSERIAL PRIMARY KEY,
			receipt_id UUID NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			result_url TEXT,
			next_run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_runnable ON sync_jobs(status, next_run_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_receipt_id ON sync_jobs(receipt_id)`,
	}

	for i, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}
