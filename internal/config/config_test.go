package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dealwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), withEmptyOrigins(cfg))
}

// Viper returns an empty slice for the origins default.
func withEmptyOrigins(c Config) Config {
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = nil
	}
	return c
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
poll:
  interval: 60s
  concurrency: 2
store:
  backend: memory
log:
  level: debug
`)
	t.Setenv("DEALWATCH_POLL_CONCURRENCY", "7")
	t.Setenv("DEALWATCH_LOG_FORMAT", "json")

	fs := newFlags(t, "--config", path, "--concurrency", "9")
	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Poll.Interval, "file overrides default")
	assert.Equal(t, 9, cfg.Poll.Concurrency, "flag overrides env and file")
	assert.Equal(t, "json", cfg.Log.Format, "env overrides default")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Poll.FetchTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "poll:\n  concurrency: 2\n")
	t.Setenv("DEALWATCH_POLL_CONCURRENCY", "7")

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Poll.Concurrency)
}

func TestLoad_LegacyAPIKeyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PITCHBOOK_API_KEY", "legacy")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.Upstream.APIKey)

	t.Setenv("DEALWATCH_UPSTREAM_API_KEY", "current")
	cfg, err = Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "current", cfg.Upstream.APIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(newFlags(t, "--backend", "postgres"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.postgres_dsn")

	_, err = Load(newFlags(t, "--concurrency", "0", "--backend", "oracle"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll.concurrency")
	assert.Contains(t, err.Error(), "oracle")
}
