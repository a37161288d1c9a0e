// Package config loads dealwatch settings from defaults, an optional YAML
// file, DEALWATCH_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "DEALWATCH"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSqlite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all settings.
type Config struct {
	Poll       PollConfig
	Store      StoreConfig
	ClickHouse ClickHouseConfig
	Upstream   UpstreamConfig
	HTTP       HTTPConfig
	Log        LogConfig
}

// PollConfig configures the scheduler.
type PollConfig struct {
	Interval        time.Duration
	Concurrency     int
	FetchTimeout    time.Duration
	FloatTolerance  float64
	ConflictRetries int
}

// StoreConfig selects and locates the snapshot store.
type StoreConfig struct {
	Backend     string
	SqlitePath  string
	PostgresDSN string
}

// ClickHouseConfig configures the optional change mirror.
type ClickHouseConfig struct {
	DSN string // empty disables the mirror
}

// UpstreamConfig configures the company data API.
type UpstreamConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr           string // empty disables the server
	AllowedOrigins []string
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Poll: PollConfig{
			Interval:        300 * time.Second,
			Concurrency:     5,
			FetchTimeout:    30 * time.Second,
			FloatTolerance:  0,
			ConflictRetries: 3,
		},
		Store: StoreConfig{
			Backend:    BackendSqlite,
			SqlitePath: "dealwatch.db",
		},
		Upstream: UpstreamConfig{
			BaseURL:    "https://api.pitchbook.com/v2",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// flagKeys maps flag names onto config keys.
var flagKeys = map[string]string{
	"interval":         "poll.interval",
	"concurrency":      "poll.concurrency",
	"fetch-timeout":    "poll.fetch_timeout",
	"float-tolerance":  "poll.float_tolerance",
	"conflict-retries": "poll.conflict_retries",
	"backend":          "store.backend",
	"sqlite-path":      "store.sqlite_path",
	"postgres-dsn":     "store.postgres_dsn",
	"clickhouse-dsn":   "clickhouse.dsn",
	"base-url":         "upstream.base_url",
	"api-key":          "upstream.api_key",
	"upstream-timeout": "upstream.timeout",
	"max-retries":      "upstream.max_retries",
	"http-addr":        "http.addr",
	"allowed-origins":  "http.allowed_origins",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// RegisterFlags adds every setting, plus --config, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML config file (default ./dealwatch.yaml if present)")

	fs.Duration("interval", d.Poll.Interval, "time between poll cycle starts")
	fs.Int("concurrency", d.Poll.Concurrency, "max entities polled in parallel")
	fs.Duration("fetch-timeout", d.Poll.FetchTimeout, "per-fetch timeout")
	fs.Float64("float-tolerance", d.Poll.FloatTolerance, "relative tolerance for float metrics")
	fs.Int("conflict-retries", d.Poll.ConflictRetries, "commit retries after a version conflict")

	fs.String("backend", d.Store.Backend, "store backend: sqlite, postgres or memory")
	fs.String("sqlite-path", d.Store.SqlitePath, "sqlite database file")
	fs.String("postgres-dsn", d.Store.PostgresDSN, "postgres connection string")
	fs.String("clickhouse-dsn", d.ClickHouse.DSN, "clickhouse DSN for the change mirror (optional)")

	fs.String("base-url", d.Upstream.BaseURL, "upstream API base URL")
	fs.String("api-key", d.Upstream.APIKey, "upstream API key")
	fs.Duration("upstream-timeout", d.Upstream.Timeout, "upstream HTTP timeout")
	fs.Int("max-retries", d.Upstream.MaxRetries, "upstream retries per request")

	fs.String("http-addr", d.HTTP.Addr, "API listen address, empty disables")
	fs.StringSlice("allowed-origins", nil, "CORS origins allowed by the API")

	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log-format", d.Log.Format, "log format: text or json")
}

// Load resolves the configuration. fs may be nil; flags that were not
// registered with RegisterFlags are ignored.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The original deployment used PITCHBOOK_API_KEY.
	_ = v.BindEnv("upstream.api_key", EnvPrefix+"_UPSTREAM_API_KEY", "PITCHBOOK_API_KEY")

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("dealwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Poll: PollConfig{
			Interval:        v.GetDuration("poll.interval"),
			Concurrency:     v.GetInt("poll.concurrency"),
			FetchTimeout:    v.GetDuration("poll.fetch_timeout"),
			FloatTolerance:  v.GetFloat64("poll.float_tolerance"),
			ConflictRetries: v.GetInt("poll.conflict_retries"),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(v.GetString("store.backend")),
			SqlitePath:  v.GetString("store.sqlite_path"),
			PostgresDSN: v.GetString("store.postgres_dsn"),
		},
		ClickHouse: ClickHouseConfig{
			DSN: v.GetString("clickhouse.dsn"),
		},
		Upstream: UpstreamConfig{
			BaseURL:    v.GetString("upstream.base_url"),
			APIKey:     v.GetString("upstream.api_key"),
			Timeout:    v.GetDuration("upstream.timeout"),
			MaxRetries: v.GetInt("upstream.max_retries"),
		},
		HTTP: HTTPConfig{
			Addr:           v.GetString("http.addr"),
			AllowedOrigins: v.GetStringSlice("http.allowed_origins"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("poll.interval", d.Poll.Interval)
	v.SetDefault("poll.concurrency", d.Poll.Concurrency)
	v.SetDefault("poll.fetch_timeout", d.Poll.FetchTimeout)
	v.SetDefault("poll.float_tolerance", d.Poll.FloatTolerance)
	v.SetDefault("poll.conflict_retries", d.Poll.ConflictRetries)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.sqlite_path", d.Store.SqlitePath)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)
	v.SetDefault("clickhouse.dsn", d.ClickHouse.DSN)
	v.SetDefault("upstream.base_url", d.Upstream.BaseURL)
	v.SetDefault("upstream.api_key", d.Upstream.APIKey)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)
	v.SetDefault("upstream.max_retries", d.Upstream.MaxRetries)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks value ranges and backend requirements.
func (c Config) Validate() error {
	var errs []error
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.Concurrency < 1 {
		errs = append(errs, errors.New("poll.concurrency must be at least 1"))
	}
	if c.Poll.FetchTimeout <= 0 {
		errs = append(errs, errors.New("poll.fetch_timeout must be positive"))
	}
	if c.Poll.FloatTolerance < 0 {
		errs = append(errs, errors.New("poll.float_tolerance must not be negative"))
	}
	if c.Poll.ConflictRetries < 0 {
		errs = append(errs, errors.New("poll.conflict_retries must not be negative"))
	}
	if c.Upstream.MaxRetries < 0 {
		errs = append(errs, errors.New("upstream.max_retries must not be negative"))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSqlite:
		if c.Store.SqlitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
