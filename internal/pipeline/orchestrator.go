package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// Orchestrator runs a full update: market scrape, fill scrape, then trade
// processing.
type Orchestrator struct {
	marketScraper  *MarketScraper
	goldskyScraper *GoldskyScraper
	tradeProcessor *TradeProcessor
	logger         *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. Either scraper may be nil, in
// which case that stage is skipped.
func NewOrchestrator(
	marketScraper *MarketScraper,
	goldskyScraper *GoldskyScraper,
	tradeProcessor *TradeProcessor,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		marketScraper:  marketScraper,
		goldskyScraper: goldskyScraper,
		tradeProcessor: tradeProcessor,
		logger:         logger.With(slog.String("component", "orchestrator")),
	}
}

// RunOnce executes each stage in order. Acquisition failures are logged and
// the run continues with whatever the tables already hold; only a processing
// failure is returned.
func (o *Orchestrator) RunOnce(ctx context.Context, run domain.RunInfo) (domain.RunSummary, error) {
	start := time.Now()
	logger := o.logger.With(slog.String("run_id", run.ID))
	logger.InfoContext(ctx, "update starting", slog.String("run", run.Label()))

	if o.marketScraper != nil {
		n, err := o.marketScraper.Run(ctx, run)
		if err != nil {
			logger.ErrorContext(ctx, "market update failed, continuing with stored markets",
				slog.Int("appended", n),
				slog.String("error", err.Error()),
			)
		}
	}

	if o.goldskyScraper != nil {
		n, err := o.goldskyScraper.Run(ctx, run)
		if err != nil {
			logger.ErrorContext(ctx, "fill update failed, continuing with stored fills",
				slog.Int("appended", n),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.RunSummary{RunID: run.ID}, fmt.Errorf("orchestrator: %w", err)
	}

	summary, err := o.tradeProcessor.Run(ctx, run)
	if err != nil {
		return summary, fmt.Errorf("orchestrator: process: %w", err)
	}

	logger.InfoContext(ctx, "update complete", slog.Duration("elapsed", time.Since(start)))
	return summary, nil
}
