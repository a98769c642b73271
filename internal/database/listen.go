package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Listener delivers Postgres NOTIFY payloads for a channel.
type Listener struct {
	pool *pgxpool.Pool
}

// NewListener creates a Listener backed by pool.
func NewListener(pool *pgxpool.Pool) *Listener {
	return &Listener{pool: pool}
}

// Subscribe LISTENs on channel and streams payloads until ctx is done.
// The returned channel is closed when the subscription ends.
func (l *Listener) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	out := make(chan string, 8)
	go func() {
		defer close(out)
		defer func() {
			_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN *")
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					conn.Conn().PgConn().Close(context.WithoutCancel(ctx))
				}
				return
			}
			select {
			case out <- n.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
