package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every override variable.
const envPrefix = "POLYLEDGER_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYLEDGER_* environment variable overrides, and
// returns the final Config. An empty path, or a path that does not exist,
// runs on defaults plus environment. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from well-known POLYLEDGER_*
// variables so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Paths ──
	setStr(&cfg.Paths.DataDir, "PATHS_DATA_DIR")
	setStr(&cfg.Paths.Markets, "PATHS_MARKETS")
	setStr(&cfg.Paths.MissingMarkets, "PATHS_MISSING_MARKETS")
	setStr(&cfg.Paths.Fills, "PATHS_FILLS")
	setStr(&cfg.Paths.Ledger, "PATHS_LEDGER")

	// ── Acquisition ──
	setStr(&cfg.Goldsky.URL, "GOLDSKY_URL")
	setStr(&cfg.Goldsky.APIKey, "GOLDSKY_API_KEY")
	setInt(&cfg.Goldsky.PageSize, "GOLDSKY_PAGE_SIZE")
	setFloat64(&cfg.Goldsky.RateLimit, "GOLDSKY_RATE_LIMIT")
	setStr(&cfg.Gamma.Host, "GAMMA_HOST")
	setInt(&cfg.Gamma.PageSize, "GAMMA_PAGE_SIZE")
	setFloat64(&cfg.Gamma.RateLimit, "GAMMA_RATE_LIMIT")
	setInt(&cfg.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.InitialBackoff, "RETRY_INITIAL_BACKOFF")
	setDuration(&cfg.Retry.MaxBackoff, "RETRY_MAX_BACKOFF")
	setDuration(&cfg.Retry.RateLimitWait, "RETRY_RATE_LIMIT_WAIT")

	// ── Pipeline ──
	setInt(&cfg.Pipeline.QuoteDecimals, "PIPELINE_QUOTE_DECIMALS")
	setBool(&cfg.Pipeline.BackfillMissing, "PIPELINE_BACKFILL_MISSING")

	// ── Lock ──
	setStr(&cfg.Lock.Backend, "LOCK_BACKEND")
	setStr(&cfg.Lock.Dir, "LOCK_DIR")
	setDuration(&cfg.Lock.TTL, "LOCK_TTL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.LogFile, "LOG_FILE")
}

// Typed env-var helpers. Each only mutates the target when the prefixed
// variable is present and non-empty.

func getenv(key string) string { return os.Getenv(envPrefix + key) }

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
