package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
)

// AdvisoryLocker serializes work across processes with session-level
// Postgres advisory locks keyed by an arbitrary string.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker creates an AdvisoryLocker backed by pool.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// WithLock runs fn while holding the advisory lock for key.
// The lock lives on a dedicated connection so it is released even if fn panics.
func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lock connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("failed to take advisory lock: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx), conn.Conn(), key); err != nil {
			logger.Log.Warn().Err(err).Msg("Dropped lock connection after failed unlock")
		}
	}()

	return fn(ctx)
}

type lockConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// unlock releases the advisory lock for key. If the lock cannot be released
// the connection is closed, which drops every session lock it holds; a
// closed connection is discarded by the pool on Release.
func unlock(ctx context.Context, conn lockConn, key string) error {
	var released bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key).Scan(&released)
	if err == nil && released {
		return nil
	}
	if err == nil {
		err = errors.New("advisory lock was not held")
	}

	if closeErr := conn.Close(ctx); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return fmt.Errorf("failed to release advisory lock: %w", err)
}
