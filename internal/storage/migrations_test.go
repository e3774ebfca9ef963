package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMigrations_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.db))

	var count int
	require.NoError(t, storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, len(AllMigrations), count)

	v, err := latestAppliedVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	_, err := storage.db.ExecContext(ctx, "SELECT revision FROM indexing_entities")
	assert.Error(t, err)

	v, err := latestAppliedVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v.String())

	require.NoError(t, RollbackMigration(ctx, storage.db))

	var name string
	err = storage.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='tasks'").Scan(&name)
	assert.Error(t, err)

	v, err = latestAppliedVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	// Re-applying brings the tasks table and the revision column back
	require.NoError(t, ApplyMigrations(ctx, storage.db))
	require.NoError(t, storage.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='tasks'").Scan(&name))
	assert.Equal(t, "tasks", name)
	_, err = storage.db.ExecContext(ctx, "SELECT revision FROM indexing_entities")
	assert.NoError(t, err)
}
