// Package app wires configuration, logging and storage for the commands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"dealwatch/internal/config"
	"dealwatch/internal/observability"
	"dealwatch/internal/storage"
	chstore "dealwatch/internal/storage/clickhouse"
	"dealwatch/internal/storage/memory"
	"dealwatch/internal/storage/migrations"
	pgstore "dealwatch/internal/storage/postgres"
	"dealwatch/internal/storage/sqlite"
)

// Bootstrap loads .env, resolves the configuration from fs and builds the
// logger. The logger also becomes slog's default.
func Bootstrap(fs *pflag.FlagSet) (config.Config, *slog.Logger, error) {
	LoadEnvFile(".env")

	cfg, err := config.Load(fs)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// OpenStores opens the configured backend and applies its migrations.
func OpenStores(ctx context.Context, cfg config.StoreConfig) (*storage.Stores, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewStores(), nil

	case config.BackendSqlite:
		db, err := sqlite.Open(ctx, cfg.SqlitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := migrations.RunSqliteMigrations(ctx, db.DB); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return sqlite.NewStores(db), nil

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return pgstore.NewStores(pool), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// OpenMirror connects the ClickHouse change mirror. Returns nil when dsn is
// empty.
func OpenMirror(ctx context.Context, dsn string) (*chstore.ChangeRecordStore, func(), error) {
	if dsn == "" {
		return nil, func() {}, nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return chstore.NewChangeRecordStore(conn), func() { conn.Close() }, nil
}

// LoadEnvFile sets KEY=VALUE pairs from path. Existing variables win and a
// missing file is ignored.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}
