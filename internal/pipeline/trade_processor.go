package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// Lock keys guarding each table's read-modify-rewrite section.
const (
	LedgerLockKey  = "ledger"
	FillsLockKey   = "fills"
	MarketsLockKey = "markets"
)

// DefaultLockTTL bounds how long a crashed holder can block a Redis lock.
const DefaultLockTTL = 10 * time.Minute

// Notification event types.
const (
	EventRunComplete = "run.complete"
	EventRunWarning  = "run.warning"
)

// FillSource is the raw order-fill table.
type FillSource interface {
	Path() string
	Exists() (bool, error)
	Read() ([]domain.RawFill, error)
}

// LedgerSink receives the rows a run appended, after the ledger write
// succeeded. firstRow is the ledger position of written[0]. Sink failures
// never fail the run.
type LedgerSink interface {
	Name() string
	Export(ctx context.Context, run domain.RunInfo, firstRow int, written []domain.Trade) error
}

// RunNotifier delivers run summaries to operators.
type RunNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// TokenBackfiller fetches markets for outcome tokens the registry does not
// know and reports how many markets it added.
type TokenBackfiller interface {
	BackfillTokens(ctx context.Context, tokenIDs []string) (int, error)
}

// ProcessorOption configures a TradeProcessor.
type ProcessorOption func(*TradeProcessor)

// WithLock serializes runs through locker.
func WithLock(locker domain.LockManager, ttl time.Duration) ProcessorOption {
	return func(p *TradeProcessor) {
		p.locker = locker
		if ttl > 0 {
			p.lockTTL = ttl
		}
	}
}

// WithSinks registers post-write exports.
func WithSinks(sinks ...LedgerSink) ProcessorOption {
	return func(p *TradeProcessor) { p.sinks = append(p.sinks, sinks...) }
}

// WithNotifier sends each run summary through n.
func WithNotifier(n RunNotifier) ProcessorOption {
	return func(p *TradeProcessor) { p.notifier = n }
}

// WithBackfiller resolves unknown tokens before the ledger is written.
func WithBackfiller(b TokenBackfiller) ProcessorOption {
	return func(p *TradeProcessor) { p.backfiller = b }
}

// TradeProcessor runs one incremental update: it resumes from the ledger's
// last row, normalizes the raw fills recorded since, and appends them.
type TradeProcessor struct {
	fills      FillSource
	ledger     LedgerStore
	writer     *LedgerWriter
	markets    []MarketSource
	normalizer *Normalizer
	locker     domain.LockManager
	lockTTL    time.Duration
	sinks      []LedgerSink
	notifier   RunNotifier
	backfiller TokenBackfiller
	logger     *slog.Logger
}

// NewTradeProcessor creates a new TradeProcessor. markets are merged in the
// given order, so the primary table must come first.
func NewTradeProcessor(
	fills FillSource,
	ledger LedgerStore,
	markets []MarketSource,
	normalizer *Normalizer,
	logger *slog.Logger,
	opts ...ProcessorOption,
) *TradeProcessor {
	logger = logger.With(slog.String("component", "trade_processor"))
	p := &TradeProcessor{
		fills:      fills,
		ledger:     ledger,
		writer:     NewLedgerWriter(ledger, logger),
		markets:    markets,
		normalizer: normalizer,
		lockTTL:    DefaultLockTTL,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs the incremental update. Data-quality problems (watermark
// miss, unresolved markets, undefined prices) are logged and counted in the
// summary; unreadable tables abort the run before the ledger is touched.
func (p *TradeProcessor) Run(ctx context.Context, run domain.RunInfo) (domain.RunSummary, error) {
	start := time.Now()
	summary := domain.RunSummary{RunID: run.ID}
	logger := p.logger.With(slog.String("run_id", run.ID))

	if p.locker != nil {
		release, err := p.locker.Acquire(ctx, LedgerLockKey, p.lockTTL)
		if err != nil {
			return summary, fmt.Errorf("trade processor: lock ledger: %w", err)
		}
		defer release()
	}

	raw, err := p.readFills()
	if err != nil {
		return summary, err
	}
	summary.RawRows = len(raw)
	logger.InfoContext(ctx, "raw fills loaded",
		slog.String("path", p.fills.Path()),
		slog.Int("rows", len(raw)),
	)

	prior, err := p.readLedger()
	if err != nil {
		return summary, err
	}
	summary.LedgerRowsPrior = len(prior)

	wm := ResumePoint(prior)
	slice := SliceUnprocessed(raw, wm)
	summary.Resumed = slice.Resumed
	summary.WatermarkFound = slice.WatermarkFound

	switch {
	case wm == nil:
		logger.InfoContext(ctx, "ledger empty, processing from the beginning")
	case slice.WatermarkFound:
		logger.InfoContext(ctx, "resuming after watermark",
			slog.Int64("timestamp", wm.Timestamp),
			slog.String("tx_hash", wm.TransactionHash),
			slog.Int("raw_index", slice.MatchIndex),
		)
	default:
		logger.WarnContext(ctx, "watermark not found in raw fills, reprocessing the whole table",
			slog.Int64("timestamp", wm.Timestamp),
			slog.String("tx_hash", wm.TransactionHash),
			slog.String("maker", wm.Maker),
			slog.String("taker", wm.Taker),
		)
	}

	trades, stats, markets, err := p.normalize(ctx, logger, slice.Rows)
	if err != nil {
		return summary, err
	}
	summary.Markets = markets
	summary.RowsProcessed = stats.RowsOut
	summary.Unresolved = stats.Unresolved
	summary.NaNPrice = stats.NaNPrice
	summary.BothQuote = stats.BothQuote

	if stats.Unresolved > 0 {
		logger.WarnContext(ctx, "trades without a known market",
			slog.Int("count", stats.Unresolved),
			slog.Int("distinct_tokens", len(stats.UnresolvedTokens)),
		)
	}
	if stats.NaNPrice > 0 {
		logger.WarnContext(ctx, "trades with undefined price",
			slog.Int("count", stats.NaNPrice),
			slog.Int("both_quote", stats.BothQuote),
		)
	}

	written, err := p.writer.Append(ctx, trades)
	if err != nil {
		return summary, fmt.Errorf("trade processor: %w", err)
	}
	summary.RowsWritten = written
	summary.Duration = time.Since(start)

	logger.InfoContext(ctx, "run summary",
		slog.Int("raw_rows", summary.RawRows),
		slog.Int("ledger_rows_prior", summary.LedgerRowsPrior),
		slog.Bool("resumed", summary.Resumed),
		slog.Bool("watermark_found", summary.WatermarkFound),
		slog.Int("processed", summary.RowsProcessed),
		slog.Int("written", summary.RowsWritten),
		slog.Int("unresolved", summary.Unresolved),
		slog.Int("nan_price", summary.NaNPrice),
		slog.Int("markets", summary.Markets),
		slog.Duration("duration", summary.Duration),
	)

	if written > 0 {
		p.export(ctx, logger, run, summary.LedgerRowsPrior, trades)
	}
	p.notify(ctx, logger, summary)

	return summary, nil
}

func (p *TradeProcessor) readFills() ([]domain.RawFill, error) {
	ok, err := p.fills.Exists()
	if err != nil {
		return nil, fmt.Errorf("trade processor: stat raw fills: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("trade processor: %s: %w", p.fills.Path(), domain.ErrRawSourceMissing)
	}
	raw, err := p.fills.Read()
	if err != nil {
		return nil, fmt.Errorf("trade processor: read raw fills: %w", err)
	}
	return raw, nil
}

func (p *TradeProcessor) readLedger() ([]domain.Trade, error) {
	ok, err := p.ledger.Exists()
	if err != nil {
		return nil, fmt.Errorf("trade processor: stat ledger: %w", err)
	}
	if !ok {
		return nil, nil
	}
	trades, err := p.ledger.Read()
	if err != nil {
		return nil, fmt.Errorf("trade processor: read ledger: %w", err)
	}
	return trades, nil
}

// normalize joins fills against a fresh registry snapshot. When a backfiller
// is configured and tokens went unresolved, it backfills them once and
// normalizes again against the enlarged registry.
func (p *TradeProcessor) normalize(ctx context.Context, logger *slog.Logger, fills []domain.RawFill) ([]domain.Trade, NormalizeStats, int, error) {
	markets, err := LoadMarkets(ctx, logger, p.markets...)
	if err != nil {
		return nil, NormalizeStats{}, 0, fmt.Errorf("trade processor: %w", err)
	}
	trades, stats := p.normalizer.Normalize(fills, BuildSideLookup(markets))

	if p.backfiller == nil || len(stats.UnresolvedTokens) == 0 {
		return trades, stats, len(markets), nil
	}

	added, err := p.backfiller.BackfillTokens(ctx, stats.UnresolvedTokens)
	if err != nil {
		logger.WarnContext(ctx, "token backfill failed, keeping unresolved trades",
			slog.String("error", err.Error()),
		)
		return trades, stats, len(markets), nil
	}
	if added == 0 {
		return trades, stats, len(markets), nil
	}

	markets, err = LoadMarkets(ctx, logger, p.markets...)
	if err != nil {
		return nil, NormalizeStats{}, 0, fmt.Errorf("trade processor: reload registry: %w", err)
	}
	trades, stats = p.normalizer.Normalize(fills, BuildSideLookup(markets))
	logger.InfoContext(ctx, "renormalized after backfill",
		slog.Int("markets_added", added),
		slog.Int("still_unresolved", stats.Unresolved),
	)
	return trades, stats, len(markets), nil
}

func (p *TradeProcessor) export(ctx context.Context, logger *slog.Logger, run domain.RunInfo, firstRow int, written []domain.Trade) {
	for _, s := range p.sinks {
		if err := s.Export(ctx, run, firstRow, written); err != nil {
			logger.WarnContext(ctx, "ledger export failed",
				slog.String("sink", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.InfoContext(ctx, "ledger exported", slog.String("sink", s.Name()))
	}
}

func (p *TradeProcessor) notify(ctx context.Context, logger *slog.Logger, summary domain.RunSummary) {
	if p.notifier == nil {
		return
	}
	event, title := EventRunComplete, "polyledger run complete"
	if summary.Degraded() {
		event, title = EventRunWarning, "polyledger run needs attention"
	}
	if err := p.notifier.Notify(ctx, event, title, summary.String()); err != nil {
		logger.WarnContext(ctx, "run notification failed", slog.String("error", err.Error()))
	}
}
