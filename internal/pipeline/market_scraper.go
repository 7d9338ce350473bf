package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// DefaultMarketPageSize is the Gamma page size for market listing.
const DefaultMarketPageSize = 500

// MarketFetcher retrieves markets from the Gamma API.
type MarketFetcher interface {
	GetMarkets(ctx context.Context, limit, offset int) (domain.MarketPage, error)
	GetMarketByToken(ctx context.Context, tokenID string) (domain.Market, error)
}

// MarketStore is a market table the scraper appends to.
type MarketStore interface {
	MarketSource
	Count() (int, error)
	Append(markets []domain.Market) (int, error)
}

// MarketScraper keeps the market tables current: Run extends the main table
// in creation order and BackfillTokens adds markets for individual tokens to
// the supplementary table.
type MarketScraper struct {
	fetcher  MarketFetcher
	main     MarketStore
	missing  MarketStore
	locker   domain.LockManager
	lockTTL  time.Duration
	pageSize int
	logger   *slog.Logger
}

// NewMarketScraper creates a new MarketScraper. A nil locker disables
// locking; a non-positive lockTTL means DefaultLockTTL.
func NewMarketScraper(fetcher MarketFetcher, main, missing MarketStore, locker domain.LockManager, lockTTL time.Duration, pageSize int, logger *slog.Logger) *MarketScraper {
	if pageSize <= 0 {
		pageSize = DefaultMarketPageSize
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &MarketScraper{
		fetcher:  fetcher,
		main:     main,
		missing:  missing,
		locker:   locker,
		lockTTL:  lockTTL,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "market_scraper")),
	}
}

// Run pages through markets oldest first, starting at the number of rows
// already in the main table, and appends what it finds. Markets gathered
// before a fetch failure are still appended.
func (s *MarketScraper) Run(ctx context.Context, run domain.RunInfo) (int, error) {
	logger := s.logger.With(slog.String("run_id", run.ID))

	release, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	offset, err := s.main.Count()
	if err != nil {
		return 0, fmt.Errorf("market scraper: count %s: %w", s.main.Path(), err)
	}
	logger.InfoContext(ctx, "market scrape starting",
		slog.String("path", s.main.Path()),
		slog.Int("offset", offset),
	)

	var (
		collected []domain.Market
		fetchErr  error
	)
	for {
		if err := ctx.Err(); err != nil {
			fetchErr = err
			break
		}

		page, err := s.fetcher.GetMarkets(ctx, s.pageSize, offset)
		if err != nil {
			fetchErr = fmt.Errorf("fetching markets at offset %d: %w", offset, err)
			break
		}
		if page.Fetched == 0 {
			break
		}

		collected = append(collected, page.Markets...)
		offset += page.Fetched

		logger.DebugContext(ctx, "fetched market page",
			slog.Int("fetched", page.Fetched),
			slog.Int("kept", len(page.Markets)),
			slog.Int("next_offset", offset),
		)

		if page.Fetched < s.pageSize {
			break
		}
	}

	appended, err := s.main.Append(collected)
	if err != nil {
		return 0, fmt.Errorf("market scraper: append to %s: %w", s.main.Path(), err)
	}

	logger.InfoContext(ctx, "market scrape complete",
		slog.Int("markets_appended", appended),
		slog.Int("offset", offset),
	)

	if fetchErr != nil {
		return appended, fmt.Errorf("market scraper: %w", fetchErr)
	}
	return appended, nil
}

// BackfillTokens looks up the market of each token and appends the ones not
// already known to the supplementary table. Per-token failures are logged
// and skipped.
func (s *MarketScraper) BackfillTokens(ctx context.Context, tokenIDs []string) (int, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}

	release, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	known, err := s.knownMarketIDs()
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "backfilling missing tokens", slog.Int("tokens", len(tokenIDs)))

	var added []domain.Market
	for _, tokenID := range tokenIDs {
		if err := ctx.Err(); err != nil {
			break
		}

		m, err := s.fetcher.GetMarketByToken(ctx, tokenID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			s.logger.InfoContext(ctx, "no market for token", slog.String("token_id", tokenID))
			continue
		case err != nil:
			s.logger.WarnContext(ctx, "token lookup failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if _, ok := known[m.ID]; ok {
			s.logger.DebugContext(ctx, "market already known",
				slog.String("token_id", tokenID),
				slog.String("market_id", m.ID),
			)
			continue
		}
		if m.Token1 == "" || m.Token2 == "" {
			s.logger.WarnContext(ctx, "market lacks two tokens, skipping",
				slog.String("token_id", tokenID),
				slog.String("market_id", m.ID),
			)
			continue
		}
		if m.Answer1 == "" {
			m.Answer1 = "YES"
		}
		if m.Answer2 == "" {
			m.Answer2 = "NO"
		}

		known[m.ID] = struct{}{}
		added = append(added, m)
	}

	n, err := s.missing.Append(added)
	if err != nil {
		return 0, fmt.Errorf("market scraper: append to %s: %w", s.missing.Path(), err)
	}

	s.logger.InfoContext(ctx, "token backfill complete",
		slog.Int("tokens", len(tokenIDs)),
		slog.Int("markets_added", n),
	)
	return n, nil
}

// knownMarketIDs collects the ids in both market tables.
func (s *MarketScraper) knownMarketIDs() (map[string]struct{}, error) {
	known := make(map[string]struct{})
	for _, t := range []MarketStore{s.main, s.missing} {
		ok, err := t.Exists()
		if err != nil {
			return nil, fmt.Errorf("market scraper: stat %s: %w", t.Path(), err)
		}
		if !ok {
			continue
		}
		markets, err := t.Read()
		if err != nil {
			return nil, fmt.Errorf("market scraper: read %s: %w", t.Path(), err)
		}
		for _, m := range markets {
			known[m.ID] = struct{}{}
		}
	}
	return known, nil
}

func (s *MarketScraper) lock(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, MarketsLockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("market scraper: lock markets: %w", err)
	}
	return release, nil
}
