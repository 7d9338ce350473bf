package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// DefaultFillPageSize is the subgraph page size for order fills.
const DefaultFillPageSize = 1000

// FillFetcher retrieves raw on-chain order-filled events.
type FillFetcher interface {
	FetchOrderFills(ctx context.Context, after int64, first int) ([]domain.RawFill, error)
	FetchLatestBlock(ctx context.Context) (int64, error)
}

// FillStore is the raw fill table the scraper appends to.
type FillStore interface {
	FillSource
	Append(fills []domain.RawFill) (int, error)
}

// GoldskyScraper pulls order fills newer than the raw table's latest
// timestamp and appends them.
type GoldskyScraper struct {
	fetcher  FillFetcher
	store    FillStore
	locker   domain.LockManager
	lockTTL  time.Duration
	pageSize int
	logger   *slog.Logger
}

// NewGoldskyScraper creates a new GoldskyScraper. A nil locker disables
// locking; a non-positive lockTTL means DefaultLockTTL.
func NewGoldskyScraper(fetcher FillFetcher, store FillStore, locker domain.LockManager, lockTTL time.Duration, pageSize int, logger *slog.Logger) *GoldskyScraper {
	if pageSize <= 0 {
		pageSize = DefaultFillPageSize
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &GoldskyScraper{
		fetcher:  fetcher,
		store:    store,
		locker:   locker,
		lockTTL:  lockTTL,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "goldsky_scraper")),
	}
}

// Run executes a single scrape run and returns the number of fills appended.
// Pages are requested with timestamp_gt the last page's maximum timestamp
// until a short page arrives. Fills gathered before a fetch failure are
// still appended.
func (s *GoldskyScraper) Run(ctx context.Context, run domain.RunInfo) (int, error) {
	logger := s.logger.With(slog.String("run_id", run.ID))

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, FillsLockKey, s.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("goldsky scraper: lock fills: %w", err)
		}
		defer release()
	}

	after, err := s.latestTimestamp()
	if err != nil {
		return 0, err
	}
	logger.InfoContext(ctx, "goldsky scrape starting",
		slog.Int64("after", after),
		slog.Time("after_time", time.Unix(after, 0).UTC()),
	)

	if block, err := s.fetcher.FetchLatestBlock(ctx); err != nil {
		logger.WarnContext(ctx, "could not read subgraph head", slog.String("error", err.Error()))
	} else {
		logger.InfoContext(ctx, "subgraph head", slog.Int64("block", block))
	}

	var (
		collected []domain.RawFill
		fetchErr  error
		pages     int
	)
	for {
		if err := ctx.Err(); err != nil {
			fetchErr = err
			break
		}

		page, err := s.fetcher.FetchOrderFills(ctx, after, s.pageSize)
		if err != nil {
			fetchErr = fmt.Errorf("fetching order fills after %d: %w", after, err)
			break
		}
		if len(page) == 0 {
			break
		}
		pages++

		after = latestFillTimestamp(page, after)
		unique := dedupeFills(page)
		collected = append(collected, unique...)

		logger.DebugContext(ctx, "fetched fill page",
			slog.Int("page", pages),
			slog.Int("records", len(page)),
			slog.Int("unique", len(unique)),
			slog.Int64("last_timestamp", after),
		)

		if len(page) < s.pageSize {
			break
		}
	}

	appended, err := s.store.Append(collected)
	if err != nil {
		return 0, fmt.Errorf("goldsky scraper: append to %s: %w", s.store.Path(), err)
	}

	logger.InfoContext(ctx, "goldsky scrape complete",
		slog.Int("pages", pages),
		slog.Int("fills_appended", appended),
		slog.Int64("last_timestamp", after),
	)

	if fetchErr != nil {
		return appended, fmt.Errorf("goldsky scraper: %w", fetchErr)
	}
	return appended, nil
}

// latestTimestamp returns the maximum timestamp in the raw table, or zero
// when the table is absent or empty.
func (s *GoldskyScraper) latestTimestamp() (int64, error) {
	ok, err := s.store.Exists()
	if err != nil {
		return 0, fmt.Errorf("goldsky scraper: stat %s: %w", s.store.Path(), err)
	}
	if !ok {
		return 0, nil
	}
	fills, err := s.store.Read()
	if err != nil {
		return 0, fmt.Errorf("goldsky scraper: read %s: %w", s.store.Path(), err)
	}
	return latestFillTimestamp(fills, 0), nil
}

// dedupeFills drops repeated events within one page, keeping the first.
func dedupeFills(page []domain.RawFill) []domain.RawFill {
	seen := make(map[domain.RawFill]struct{}, len(page))
	out := make([]domain.RawFill, 0, len(page))
	for _, f := range page {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// latestFillTimestamp returns the most recent timestamp from a slice of fills,
// or the fallback if the slice is empty.
func latestFillTimestamp(fills []domain.RawFill, fallback int64) int64 {
	latest := fallback
	for _, f := range fills {
		if f.Timestamp > latest {
			latest = f.Timestamp
		}
	}
	return latest
}
