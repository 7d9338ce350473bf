// Package config defines the polyledger configuration and its validation.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYLEDGER_* environment variables.
type Config struct {
	Paths    PathsConfig    `toml:"paths"`
	Goldsky  GoldskyConfig  `toml:"goldsky"`
	Gamma    GammaConfig    `toml:"gamma"`
	Retry    RetryConfig    `toml:"retry"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Lock     LockConfig     `toml:"lock"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Postgres PostgresConfig `toml:"postgres"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	LogFile  string         `toml:"log_file"`
}

// PathsConfig locates the tables. Relative table paths are resolved against
// DataDir.
type PathsConfig struct {
	DataDir        string `toml:"data_dir"`
	Markets        string `toml:"markets"`
	MissingMarkets string `toml:"missing_markets"`
	Fills          string `toml:"fills"`
	Ledger         string `toml:"ledger"`
}

// Resolve returns p joined to DataDir unless it is absolute.
func (p PathsConfig) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.DataDir, path)
}

// GoldskyConfig holds the order-fill subgraph endpoint.
type GoldskyConfig struct {
	URL       string  `toml:"url"`
	APIKey    string  `toml:"api_key"`
	PageSize  int     `toml:"page_size"`
	RateLimit float64 `toml:"rate_limit"` // requests per second, 0 = unpaced
}

// GammaConfig holds the market metadata endpoint.
type GammaConfig struct {
	Host      string  `toml:"host"`
	PageSize  int     `toml:"page_size"`
	RateLimit float64 `toml:"rate_limit"`
}

// RetryConfig shapes the backoff used by both acquisition clients.
type RetryConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	RateLimitWait  duration `toml:"rate_limit_wait"`
	Jitter         bool     `toml:"jitter"`
}

// PipelineConfig holds trade-processing parameters.
type PipelineConfig struct {
	QuoteDecimals   int  `toml:"quote_decimals"`
	BackfillMissing bool `toml:"backfill_missing"`
}

// LockConfig selects how table rewrites are serialized.
type LockConfig struct {
	Backend string   `toml:"backend"` // "file" or "redis"
	Dir     string   `toml:"dir"`
	TTL     duration `toml:"ttl"`
}

// RedisConfig holds Redis connection parameters for the distributed lock.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for ledger
// snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	SnapshotPrefix string `toml:"snapshot_prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSize       int64  `toml:"part_size"`
}

// PostgresConfig holds the analytics mirror connection.
type PostgresConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	MaxConns       int      `toml:"max_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Paths: PathsConfig{
			DataDir:        ".",
			Markets:        "markets.parquet",
			MissingMarkets: "missing_markets.parquet",
			Fills:          "goldsky/orderFilled.parquet",
			Ledger:         "processed/trades.parquet",
		},
		Goldsky: GoldskyConfig{
			PageSize:  1000,
			RateLimit: 5,
		},
		Gamma: GammaConfig{
			Host:      "https://gamma-api.polymarket.com",
			PageSize:  500,
			RateLimit: 5,
		},
		Retry: RetryConfig{
			MaxAttempts:    5,
			InitialBackoff: duration{2 * time.Second},
			MaxBackoff:     duration{30 * time.Second},
			RateLimitWait:  duration{10 * time.Second},
			Jitter:         true,
		},
		Pipeline: PipelineConfig{
			QuoteDecimals:   6,
			BackfillMissing: false,
		},
		Lock: LockConfig{
			Backend: "file",
			Dir:     ".locks",
			TTL:     duration{30 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			MaxRetries: 3,
			KeyPrefix:  "polyledger",
		},
		S3: S3Config{
			Region:         "us-east-1",
			SnapshotPrefix: "ledger/trades",
			ForcePathStyle: true,
			PartSize:       16 << 20,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "polyledger",
			User:           "postgres",
			SSLMode:        "disable",
			MaxConns:       4,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Notify: NotifyConfig{
			Events: []string{"run.warning"},
		},
		Mode:     "update",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"update":  true,
	"process": true,
	"markets": true,
	"goldsky": true,
	"migrate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: update, process, markets, goldsky, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Paths
	if c.Paths.DataDir == "" {
		errs = append(errs, "paths: data_dir must not be empty")
	}
	for _, p := range []struct{ name, value string }{
		{"markets", c.Paths.Markets},
		{"missing_markets", c.Paths.MissingMarkets},
		{"fills", c.Paths.Fills},
		{"ledger", c.Paths.Ledger},
	} {
		if strings.TrimSpace(p.value) == "" {
			errs = append(errs, "paths: "+p.name+" must not be empty")
		}
	}

	// Acquisition
	if c.Goldsky.PageSize < 1 || c.Goldsky.PageSize > 1000 {
		errs = append(errs, fmt.Sprintf("goldsky: page_size must be 1-1000, got %d", c.Goldsky.PageSize))
	}
	if c.Goldsky.RateLimit < 0 || c.Gamma.RateLimit < 0 {
		errs = append(errs, "rate_limit must be >= 0")
	}
	if c.Gamma.Host == "" {
		errs = append(errs, "gamma: host must not be empty")
	}
	if c.Gamma.PageSize < 1 {
		errs = append(errs, "gamma: page_size must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}
	if c.Retry.InitialBackoff.Duration < 0 || c.Retry.MaxBackoff.Duration < 0 || c.Retry.RateLimitWait.Duration < 0 {
		errs = append(errs, "retry: durations must not be negative")
	}

	// Pipeline
	if c.Pipeline.QuoteDecimals < 0 || c.Pipeline.QuoteDecimals > 18 {
		errs = append(errs, fmt.Sprintf("pipeline: quote_decimals must be 0-18, got %d", c.Pipeline.QuoteDecimals))
	}

	// Lock
	switch c.Lock.Backend {
	case "file":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when lock.backend is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock: unknown backend %q (valid: file, redis)", c.Lock.Backend))
	}
	if c.Lock.Dir == "" {
		errs = append(errs, "lock: dir must not be empty")
	}
	if c.Lock.TTL.Duration <= 0 {
		errs = append(errs, "lock: ttl must be > 0")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, "s3: access_key and secret_key must be set together")
		}
		if c.S3.PartSize < 5<<20 {
			errs = append(errs, "s3: part_size must be at least 5MiB")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.MaxConns < 1 {
			errs = append(errs, "postgres: max_conns must be >= 1")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
