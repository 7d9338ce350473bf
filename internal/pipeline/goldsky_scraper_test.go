package pipeline

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// fakeSubgraph serves fills with timestamp_gt paging over a fixed event set.
type fakeSubgraph struct {
	events  []domain.RawFill
	failAt  int // fail on this call number (1-based); zero never fails
	calls   int
	afters  []int64
	headErr error
}

func (f *fakeSubgraph) FetchOrderFills(_ context.Context, after int64, first int) ([]domain.RawFill, error) {
	f.calls++
	f.afters = append(f.afters, after)
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, domain.ErrSourceUnavailable
	}
	var out []domain.RawFill
	for _, e := range f.events {
		if e.Timestamp > after {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if len(out) > first {
		out = out[:first]
	}
	return out, nil
}

func (f *fakeSubgraph) FetchLatestBlock(context.Context) (int64, error) {
	return 123, f.headErr
}

func event(id string, ts int64) domain.RawFill {
	f := fill(ts, "0x"+id, "maker", "taker", "111", "1", "", "1")
	f.ID = id
	return f
}

func TestGoldskyScraperPagesUntilShortPage(t *testing.T) {
	tt := newTestTables(t)
	sub := &fakeSubgraph{events: []domain.RawFill{
		event("a", 1), event("b", 2), event("c", 3), event("d", 4), event("e", 5),
	}}
	s := NewGoldskyScraper(sub, tt.fills, nil, 0, 2, discardLogger())

	n, err := s.Run(context.Background(), testRun("r1"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int64{0, 2, 4}, sub.afters)

	stored, err := tt.fills.Read()
	require.NoError(t, err)
	require.Len(t, stored, 5)
	assert.Equal(t, int64(5), stored[4].Timestamp)
}

func TestGoldskyScraperResumesFromLatestTimestamp(t *testing.T) {
	tt := newTestTables(t)
	_, err := tt.fills.Append([]domain.RawFill{fill(7, "0xold", "m", "t", "111", "1", "", "1")})
	require.NoError(t, err)

	sub := &fakeSubgraph{events: []domain.RawFill{event("old", 7), event("new", 9)}}
	n, err := NewGoldskyScraper(sub, tt.fills, nil, 0, 10, discardLogger()).Run(context.Background(), testRun("r1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(7), sub.afters[0])

	stored, err := tt.fills.Read()
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestGoldskyScraperKeepsPartialProgress(t *testing.T) {
	tt := newTestTables(t)
	sub := &fakeSubgraph{
		events:  []domain.RawFill{event("a", 1), event("b", 2), event("c", 3)},
		failAt:  2,
		headErr: domain.ErrSourceUnavailable,
	}
	n, err := NewGoldskyScraper(sub, tt.fills, nil, 0, 2, discardLogger()).Run(context.Background(), testRun("r1"))
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, 2, n)

	stored, err := tt.fills.Read()
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestGoldskyScraperTakesFillsLock(t *testing.T) {
	tt := newTestTables(t)
	held := &heldLock{}
	_, err := NewGoldskyScraper(&fakeSubgraph{}, tt.fills, held, 0, 0, discardLogger()).Run(context.Background(), testRun("r1"))
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, []string{FillsLockKey}, held.keys)
}

func TestScrapersUseConfiguredLockTTL(t *testing.T) {
	tt := newTestTables(t)
	lock := &countingLock{}

	_, err := NewGoldskyScraper(&fakeSubgraph{}, tt.fills, lock, 45*time.Minute, 0, discardLogger()).
		Run(context.Background(), testRun("r1"))
	require.NoError(t, err)
	_, err = NewMarketScraper(&fakeGamma{}, tt.markets, tt.missing, lock, 0, 0, discardLogger()).
		Run(context.Background(), testRun("r1"))
	require.NoError(t, err)

	assert.Equal(t, []string{FillsLockKey, MarketsLockKey}, lock.acquired)
	assert.Equal(t, []time.Duration{45 * time.Minute, DefaultLockTTL}, lock.ttls)
	assert.Equal(t, 2, lock.released)
}

func TestDedupeFills(t *testing.T) {
	a := event("a", 1)
	b := event("b", 1)
	aAgain := event("a", 1)
	other := event("a", 1)
	other.TakerAmountFilled = "2"

	got := dedupeFills([]domain.RawFill{a, b, aAgain, other})
	assert.Equal(t, []domain.RawFill{a, b, other}, got)
}

func TestLatestFillTimestamp(t *testing.T) {
	assert.Equal(t, int64(9), latestFillTimestamp(nil, 9))
	assert.Equal(t, int64(12), latestFillTimestamp([]domain.RawFill{event("a", 12), event("b", 3)}, 9))
}
