package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polyledger/internal/blob/s3"
	"github.com/alanyoungcy/polyledger/internal/cache/redis"
	"github.com/alanyoungcy/polyledger/internal/config"
	"github.com/alanyoungcy/polyledger/internal/domain"
	"github.com/alanyoungcy/polyledger/internal/lock"
	"github.com/alanyoungcy/polyledger/internal/notify"
	"github.com/alanyoungcy/polyledger/internal/pipeline"
	"github.com/alanyoungcy/polyledger/internal/platform/goldsky"
	"github.com/alanyoungcy/polyledger/internal/platform/polymarket"
	"github.com/alanyoungcy/polyledger/internal/retry"
	parquetstore "github.com/alanyoungcy/polyledger/internal/store/parquet"
	"github.com/alanyoungcy/polyledger/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Tables
	Markets        *parquetstore.MarketTable
	MissingMarkets *parquetstore.MarketTable
	Fills          *parquetstore.FillTable
	Ledger         *parquetstore.LedgerTable

	// Acquisition clients
	Goldsky *goldsky.Client
	Gamma   *polymarket.GammaClient

	Locker domain.LockManager

	// Post-write exports; empty unless enabled.
	Sinks []pipeline.LedgerSink

	Notifier *notify.Notifier
}

// needsSinks reports whether mode can write the ledger.
func needsSinks(mode string) bool {
	return mode == "update" || mode == "process"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	paths := cfg.Paths
	deps := &Dependencies{
		Markets:        parquetstore.NewMarketTable(paths.Resolve(paths.Markets)),
		MissingMarkets: parquetstore.NewMarketTable(paths.Resolve(paths.MissingMarkets)),
		Fills:          parquetstore.NewFillTable(paths.Resolve(paths.Fills)),
		Ledger:         parquetstore.NewLedgerTable(paths.Resolve(paths.Ledger)),
	}

	// --- Acquisition clients ---
	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff.Duration,
		MaxBackoff:     cfg.Retry.MaxBackoff.Duration,
		RateLimitWait:  cfg.Retry.RateLimitWait.Duration,
		Jitter:         cfg.Retry.Jitter,
	}
	deps.Goldsky = goldsky.NewClient(cfg.Goldsky.URL, cfg.Goldsky.APIKey,
		goldsky.WithRetryPolicy(policy),
		goldsky.WithRateLimit(cfg.Goldsky.RateLimit),
		goldsky.WithLogger(logger.With(slog.String("component", "goldsky"))),
	)
	deps.Gamma = polymarket.NewGammaClient(cfg.Gamma.Host,
		polymarket.WithRetryPolicy(policy),
		polymarket.WithRateLimit(cfg.Gamma.RateLimit),
		polymarket.WithLogger(logger.With(slog.String("component", "gamma"))),
	)

	// --- Locks ---
	fileLocks := lock.NewFileLockManager(paths.Resolve(cfg.Lock.Dir))
	deps.Locker = fileLocks
	if cfg.Lock.Backend == "redis" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		// The file lock still guards against a second process on this host
		// when Redis keys expire early.
		deps.Locker = lock.Chain{fileLocks, redis.NewLockManager(redisClient, cfg.Redis.KeyPrefix)}
	}

	mode := cfg.Mode

	// --- S3 snapshots ---
	if cfg.S3.Enabled && needsSinks(mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Sinks = append(deps.Sinks, pipeline.NewSnapshotPublisher(
			s3blob.NewWriter(s3Client),
			deps.Ledger.Path(),
			cfg.S3.SnapshotPrefix,
			cfg.S3.PartSize,
		))
	}

	// --- PostgreSQL mirror ---
	if cfg.Postgres.Enabled && needsSinks(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.MaxConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Sinks = append(deps.Sinks, postgres.NewTradeStore(pgClient.Pool()))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
