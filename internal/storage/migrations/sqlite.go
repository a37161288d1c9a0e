package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// RunSqliteMigrations applies all embedded SQLite files in lexical order.
// The modernc driver executes multi-statement scripts in one Exec.
func RunSqliteMigrations(ctx context.Context, db *sql.DB) error {
	files, err := readMigrations(SqliteFS, "sqlite")
	if err != nil {
		return err
	}
	for _, m := range files {
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
