package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// MarketSource is one market table feeding the registry.
type MarketSource interface {
	Path() string
	Exists() (bool, error)
	Read() ([]domain.Market, error)
}

// LoadMarkets reads every source concurrently and merges them in argument
// order: rows are deduplicated by ID keeping the first one seen, then stably
// sorted by creation time. Absent sources are skipped. An empty registry is
// logged at WARN but is not an error, since every trade would then be
// emitted unresolved.
func LoadMarkets(ctx context.Context, logger *slog.Logger, sources ...MarketSource) ([]domain.Market, error) {
	parts := make([][]domain.Market, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := src.Exists()
			if err != nil {
				return fmt.Errorf("registry: stat %s: %w", src.Path(), err)
			}
			if !ok {
				logger.DebugContext(gctx, "market table absent, skipping", slog.String("path", src.Path()))
				return nil
			}
			// A sibling failure cancels gctx; skip the decode.
			if err := gctx.Err(); err != nil {
				return err
			}
			markets, err := src.Read()
			if err != nil {
				return fmt.Errorf("registry: read %s: %w", src.Path(), err)
			}
			logger.InfoContext(gctx, "loaded market table",
				slog.String("path", src.Path()),
				slog.Int("markets", len(markets)),
			)
			parts[i] = markets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, p := range parts {
		total += len(p)
	}

	seen := make(map[string]struct{}, total)
	merged := make([]domain.Market, 0, total)
	for _, p := range parts {
		for _, m := range p {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	if len(merged) == 0 {
		logger.WarnContext(ctx, "market registry is empty; every trade will be unresolved")
	} else {
		logger.InfoContext(ctx, "market registry loaded", slog.Int("markets", len(merged)))
	}
	return merged, nil
}

// BuildSideLookup pivots markets into a token id -> (market, side) map. All
// token1 entries are indexed before any token2 entry and the first entry for
// a token wins, so a token listed by two markets resolves to the earlier
// token1 listing. Empty token ids are ignored.
func BuildSideLookup(markets []domain.Market) domain.SideLookup {
	lookup := make(domain.SideLookup, 2*len(markets))
	add := func(token, marketID, side string) {
		if token == "" {
			return
		}
		if _, ok := lookup[token]; ok {
			return
		}
		lookup[token] = domain.MarketSide{MarketID: marketID, Side: side}
	}
	for _, m := range markets {
		add(m.Token1, m.ID, domain.SideToken1)
	}
	for _, m := range markets {
		add(m.Token2, m.ID, domain.SideToken2)
	}
	return lookup
}
