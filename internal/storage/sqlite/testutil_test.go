package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dealwatch/internal/storage/migrations"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// setupTestDB opens a migrated database in a temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to open sqlite")
	t.Cleanup(db.Close)

	require.NoError(t, migrations.RunSqliteMigrations(ctx, db.DB), "failed to migrate sqlite")
	return db
}
