package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyledger/internal/config"
	"github.com/alanyoungcy/polyledger/internal/domain"
	"github.com/alanyoungcy/polyledger/internal/pipeline"
)

// UpdateMode refreshes markets and fills, then processes new trades.
func (a *App) UpdateMode(ctx context.Context, deps *Dependencies, run domain.RunInfo) error {
	markets := a.marketScraper(deps)
	processor := a.tradeProcessor(deps, markets)
	orch := pipeline.NewOrchestrator(markets, a.goldskyScraper(deps), processor, a.logger)

	if _, err := orch.RunOnce(ctx, run); err != nil {
		return fmt.Errorf("update mode: %w", err)
	}
	return nil
}

// ProcessMode runs the incremental trade update against the tables on disk.
func (a *App) ProcessMode(ctx context.Context, deps *Dependencies, run domain.RunInfo) error {
	var backfill *pipeline.MarketScraper
	if a.cfg.Pipeline.BackfillMissing {
		backfill = a.marketScraper(deps)
	}
	if _, err := a.tradeProcessor(deps, backfill).Run(ctx, run); err != nil {
		return fmt.Errorf("process mode: %w", err)
	}
	return nil
}

// MarketsMode extends the market table only.
func (a *App) MarketsMode(ctx context.Context, deps *Dependencies, run domain.RunInfo) error {
	n, err := a.marketScraper(deps).Run(ctx, run)
	if err != nil {
		return fmt.Errorf("markets mode: %w", err)
	}
	a.logger.InfoContext(ctx, "markets mode complete", slog.Int("appended", n))
	return nil
}

// GoldskyMode extends the raw fill table only.
func (a *App) GoldskyMode(ctx context.Context, deps *Dependencies, run domain.RunInfo) error {
	n, err := a.goldskyScraper(deps).Run(ctx, run)
	if err != nil {
		return fmt.Errorf("goldsky mode: %w", err)
	}
	a.logger.InfoContext(ctx, "goldsky mode complete", slog.Int("appended", n))
	return nil
}

// migrateLockOrder is fixed so concurrent multi-table holders cannot deadlock.
var migrateLockOrder = []string{
	pipeline.MarketsLockKey,
	pipeline.FillsLockKey,
	pipeline.LedgerLockKey,
}

// MigrateMode converts the legacy CSV tables under the data directory.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	plan := legacyPlan(a.cfg.Paths, deps)

	// Migration rewrites every table, so it holds every table lock.
	for _, key := range migrateLockOrder {
		release, err := deps.Locker.Acquire(ctx, key, a.cfg.Lock.TTL.Duration)
		if err != nil {
			return fmt.Errorf("migrate mode: lock %s: %w", key, err)
		}
		defer release()
	}

	results, err := pipeline.NewMigrator(plan, a.logger).Migrate(ctx, a.force)
	for _, r := range results {
		a.logger.InfoContext(ctx, "migration result",
			slog.String("csv", r.CSV),
			slog.Int("rows", r.Rows),
			slog.Bool("skipped", r.Skipped),
		)
	}
	if err != nil {
		return fmt.Errorf("migrate mode: %w", err)
	}
	return nil
}

func legacyPlan(paths config.PathsConfig, deps *Dependencies) pipeline.MigrationPlan {
	return pipeline.MigrationPlan{
		MarketsCSV: paths.Resolve(pipeline.LegacyMarketsCSV),
		Markets:    deps.Markets,
		MissingCSV: paths.Resolve(pipeline.LegacyMissingCSV),
		Missing:    deps.MissingMarkets,
		FillsCSV:   paths.Resolve(pipeline.LegacyFillsCSV),
		Fills:      deps.Fills,
		LedgerCSV:  paths.Resolve(pipeline.LegacyLedgerCSV),
		Ledger:     deps.Ledger,
	}
}

func (a *App) marketScraper(deps *Dependencies) *pipeline.MarketScraper {
	return pipeline.NewMarketScraper(deps.Gamma, deps.Markets, deps.MissingMarkets,
		deps.Locker, a.cfg.Lock.TTL.Duration, a.cfg.Gamma.PageSize, a.logger)
}

func (a *App) goldskyScraper(deps *Dependencies) *pipeline.GoldskyScraper {
	return pipeline.NewGoldskyScraper(deps.Goldsky, deps.Fills, deps.Locker,
		a.cfg.Lock.TTL.Duration, a.cfg.Goldsky.PageSize, a.logger)
}

// tradeProcessor builds the processor; backfill may be nil.
func (a *App) tradeProcessor(deps *Dependencies, backfill *pipeline.MarketScraper) *pipeline.TradeProcessor {
	opts := []pipeline.ProcessorOption{
		pipeline.WithLock(deps.Locker, a.cfg.Lock.TTL.Duration),
		pipeline.WithSinks(deps.Sinks...),
	}
	if deps.Notifier.Enabled() {
		opts = append(opts, pipeline.WithNotifier(deps.Notifier))
	}
	if backfill != nil && a.cfg.Pipeline.BackfillMissing {
		opts = append(opts, pipeline.WithBackfiller(backfill))
	}
	return pipeline.NewTradeProcessor(
		deps.Fills,
		deps.Ledger,
		[]pipeline.MarketSource{deps.Markets, deps.MissingMarkets},
		pipeline.NewNormalizer(a.cfg.Pipeline.QuoteDecimals),
		a.logger,
		opts...,
	)
}
