package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTestPool_IsSharedAndMigrated(t *testing.T) {
	p1 := TestPool(t)
	p2 := TestPool(t)
	require.Same(t, p1, p2)

	var exists bool
	err := p1.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'sync_jobs')`,
	).Scan(&exists)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestTestTx_RollsBackOnCleanup(t *testing.T) {
	userID := uuid.New()

	t.Run("write", func(t *testing.T) {
		db := TestTx(t)
		_, err := db.Exec(context.Background(), `INSERT INTO profiles (user_id) VALUES ($1)`, userID)
		require.NoError(t, err)
	})

	var n int
	err := TestPool(t).QueryRow(context.Background(),
		`SELECT count(*) FROM profiles WHERE user_id = $1`, userID,
	).Scan(&n)
	require.NoError(t, err)
	require.Zero(t, n)
}
