package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "process"

[paths]
data_dir = "/var/lib/polyledger"

[retry]
max_attempts = 3
initial_backoff = "500ms"

[lock]
backend = "redis"
ttl = "5m"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "process", cfg.Mode)
	assert.Equal(t, "/var/lib/polyledger", cfg.Paths.DataDir)
	assert.Equal(t, "processed/trades.parquet", cfg.Paths.Ledger, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff.Duration)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff.Duration)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Lock.TTL.Duration)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyledger.toml")
	require.NoError(t, os.WriteFile(path, []byte("[pipeline]\nquote_decimal = 6\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.quote_decimal")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "update", cfg.Mode)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYLEDGER_MODE", "goldsky")
	t.Setenv("POLYLEDGER_GOLDSKY_PAGE_SIZE", "250")
	t.Setenv("POLYLEDGER_PIPELINE_BACKFILL_MISSING", "true")
	t.Setenv("POLYLEDGER_LOCK_TTL", "90s")
	t.Setenv("POLYLEDGER_NOTIFY_EVENTS", "run.complete, run.warning,")
	t.Setenv("POLYLEDGER_GAMMA_RATE_LIMIT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "goldsky", cfg.Mode)
	assert.Equal(t, 250, cfg.Goldsky.PageSize)
	assert.True(t, cfg.Pipeline.BackfillMissing)
	assert.Equal(t, 90*time.Second, cfg.Lock.TTL.Duration)
	assert.Equal(t, []string{"run.complete", "run.warning"}, cfg.Notify.Events)
	assert.Equal(t, float64(5), cfg.Gamma.RateLimit, "malformed values are ignored")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Pipeline.QuoteDecimals = 30
	cfg.Lock.Backend = "etcd"
	cfg.S3.Enabled = true
	cfg.S3.AccessKey = "AKIA"
	cfg.Postgres.Enabled = true
	cfg.Postgres.Port = 0
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"quote_decimals",
		`unknown backend "etcd"`,
		"s3: bucket",
		"access_key and secret_key",
		"postgres: port",
		"telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestResolve(t *testing.T) {
	p := PathsConfig{DataDir: "/data"}
	assert.Equal(t, "/data/goldsky/orderFilled.parquet", p.Resolve("goldsky/orderFilled.parquet"))
	assert.Equal(t, "/abs/trades.parquet", p.Resolve("/abs/trades.parquet"))
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Goldsky.APIKey = "gk"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Goldsky.APIKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.S3.SecretKey)
	assert.Equal(t, "gk", cfg.Goldsky.APIKey, "original untouched")

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "run.warning", cfg.Notify.Events[0])
}
