package database

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

const testDatabaseEnv = "TEST_DATABASE_URL"

var (
	sharedPoolOnce sync.Once
	sharedPool     *pgxpool.Pool
	sharedPoolErr  error
)

// TestPool returns a migrated pool shared by every integration test in the
// process. It skips the test when TEST_DATABASE_URL is unset.
func TestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv(testDatabaseEnv)
	if dbURL == "" {
		t.Skip(testDatabaseEnv + " not set, skipping integration test")
	}

	sharedPoolOnce.Do(func() {
		ctx := context.Background()
		sharedPool, sharedPoolErr = Connect(ctx, dbURL)
		if sharedPoolErr == nil {
			sharedPoolErr = RunMigrations(ctx, sharedPool)
		}
	})
	if sharedPoolErr != nil {
		t.Fatalf("failed to prepare test database: %v", sharedPoolErr)
	}

	return sharedPool
}

// TestTx opens a transaction that is rolled back when the test ends.
// Receipts, sessions and sync jobs written through it never leak into
// parallel tests.
//
//	tx := database.TestTx(t)
//	receipts := repository.NewReceiptRepository(tx)
func TestTx(t *testing.T) PGXDB {
	t.Helper()

	tx, err := TestPool(t).Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin test transaction: %v", err)
	}
	t.Cleanup(func() {
		_ = tx.Rollback(context.Background())
	})

	return tx
}
