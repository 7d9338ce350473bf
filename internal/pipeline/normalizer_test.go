package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

func testLookup() domain.SideLookup {
	return BuildSideLookup([]domain.Market{
		{ID: "m1", Token1: "111", Token2: "222"},
		{ID: "m2", Token1: "333", Token2: "444"},
	})
}

func TestNormalizeTakerPaysQuote(t *testing.T) {
	n := NewNormalizer(DefaultQuoteDecimals)
	trades, stats := n.Normalize([]domain.RawFill{
		fill(1700000000, "0xaa", "0xmaker", "0xtaker", "111", "5000000", "", "2500000"),
	}, testLookup())

	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, "m1", deref(tr.MarketID))
	assert.Equal(t, domain.SideToken1, deref(tr.NonUSDCSide))
	assert.Equal(t, domain.DirectionBuy, tr.TakerDirection)
	assert.Equal(t, domain.DirectionSell, tr.MakerDirection)
	assert.InDelta(t, 2.5, tr.USDAmount, 1e-12)
	assert.InDelta(t, 5.0, tr.TokenAmount, 1e-12)
	assert.InDelta(t, 0.5, tr.Price, 1e-12)
	assert.Equal(t, int64(1700000000), tr.Timestamp)
	assert.Equal(t, "0xmaker", tr.Maker)
	assert.Equal(t, "0xtaker", tr.Taker)
	assert.Equal(t, "0xaa", tr.TransactionHash)
	assert.Zero(t, stats.Unresolved)
	assert.Zero(t, stats.NaNPrice)
}

func TestNormalizeMakerPaysQuote(t *testing.T) {
	n := NewNormalizer(DefaultQuoteDecimals)
	trades, _ := n.Normalize([]domain.RawFill{
		fill(1, "0xbb", "0xm", "0xt", "", "1000000", "222", "4000000"),
	}, testLookup())

	tr := trades[0]
	assert.Equal(t, "m1", deref(tr.MarketID))
	assert.Equal(t, domain.SideToken2, deref(tr.NonUSDCSide))
	assert.Equal(t, domain.DirectionSell, tr.TakerDirection)
	assert.Equal(t, domain.DirectionBuy, tr.MakerDirection)
	assert.InDelta(t, 1.0, tr.USDAmount, 1e-12)
	assert.InDelta(t, 4.0, tr.TokenAmount, 1e-12)
	assert.InDelta(t, 0.25, tr.Price, 1e-12)
}

func TestNormalizeUnresolvedAssetStillEmitted(t *testing.T) {
	n := NewNormalizer(DefaultQuoteDecimals)
	trades, stats := n.Normalize([]domain.RawFill{
		fill(1, "0x1", "a", "b", "999", "2000000", "", "1000000"),
		fill(2, "0x2", "a", "b", "", "1000000", "999", "2000000"),
		fill(3, "0x3", "a", "b", "888", "1000000", "", "1000000"),
	}, testLookup())

	require.Len(t, trades, 3)
	for _, tr := range trades {
		assert.Nil(t, tr.MarketID)
		assert.Nil(t, tr.NonUSDCSide)
		assert.False(t, math.IsNaN(tr.Price))
	}
	assert.Equal(t, domain.DirectionBuy, trades[0].TakerDirection)
	assert.Equal(t, domain.DirectionSell, trades[1].TakerDirection)
	assert.Equal(t, 3, stats.Unresolved)
	assert.Equal(t, []string{"999", "888"}, stats.UnresolvedTokens)
}

func TestNormalizeCountsUndefinedPrices(t *testing.T) {
	n := NewNormalizer(DefaultQuoteDecimals)
	fills := []domain.RawFill{
		fill(1, "0x1", "a", "b", "111", "1000000", "", "500000"),
		fill(2, "0x2", "a", "b", "111", "0", "", "500000"),
		fill(3, "0x3", "a", "b", "", "0", "222", "0"),
		fill(4, "0x4", "a", "b", "333", "1000000", "", "oops"),
		fill(5, "0x5", "a", "b", "", "1000000", "", "1000000"),
	}
	trades, stats := n.Normalize(fills, testLookup())

	require.Len(t, trades, len(fills))
	assert.Equal(t, len(fills), stats.RowsIn)
	assert.Equal(t, len(fills), stats.RowsOut)
	assert.Equal(t, 4, stats.NaNPrice)
	assert.Equal(t, 1, stats.BothQuote)

	assert.InDelta(t, 0.5, trades[0].Price, 1e-12)
	assert.True(t, math.IsNaN(trades[1].Price))
	assert.True(t, math.IsNaN(trades[2].Price))
	assert.True(t, math.IsNaN(trades[3].Price))
	assert.True(t, math.IsNaN(trades[3].USDAmount))
	assert.InDelta(t, 1.0, trades[3].TokenAmount, 1e-12)

	both := trades[4]
	assert.True(t, math.IsNaN(both.Price))
	assert.Nil(t, both.NonUSDCSide)
	assert.Nil(t, both.MarketID)
	assert.Equal(t, domain.DirectionBuy, both.TakerDirection)
}

func TestNormalizePreservesOrderAndDirectionsAreComplementary(t *testing.T) {
	n := NewNormalizer(DefaultQuoteDecimals)
	var fills []domain.RawFill
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			fills = append(fills, fill(int64(100-i), string(rune('a'+i%26)), "m", "t", "111", "3000000", "", "1000000"))
		} else {
			fills = append(fills, fill(int64(100-i), string(rune('a'+i%26)), "m", "t", "", "1000000", "444", "3000000"))
		}
	}

	trades, _ := n.Normalize(fills, testLookup())
	require.Len(t, trades, len(fills))
	for i, tr := range trades {
		assert.Equal(t, fills[i].Timestamp, tr.Timestamp, "row %d", i)
		assert.Equal(t, fills[i].TransactionHash, tr.TransactionHash, "row %d", i)
		assert.NotEqual(t, tr.MakerDirection, tr.TakerDirection, "row %d", i)
		assert.Contains(t, []string{domain.DirectionBuy, domain.DirectionSell}, tr.TakerDirection)
	}
}

func TestNormalizeLargeAmounts(t *testing.T) {
	n := NewNormalizer(DefaultQuoteDecimals)
	trades, stats := n.Normalize([]domain.RawFill{
		fill(1, "0x1", "a", "b", "111", "20000000000000000000000", "", "10000000000000000000000"),
	}, testLookup())

	assert.Zero(t, stats.NaNPrice)
	assert.InDelta(t, 1e16, trades[0].USDAmount, 1)
	assert.InDelta(t, 0.5, trades[0].Price, 1e-12)
}

func TestNormalizeCustomDecimals(t *testing.T) {
	trades, _ := NewNormalizer(0).Normalize([]domain.RawFill{
		fill(1, "0x1", "a", "b", "111", "10", "", "4"),
	}, testLookup())

	assert.InDelta(t, 4.0, trades[0].USDAmount, 1e-12)
	assert.InDelta(t, 10.0, trades[0].TokenAmount, 1e-12)
	assert.InDelta(t, 0.4, trades[0].Price, 1e-12)
}

func TestNormalizeEmpty(t *testing.T) {
	trades, stats := NewNormalizer(DefaultQuoteDecimals).Normalize(nil, nil)
	assert.Empty(t, trades)
	assert.Zero(t, stats.RowsOut)
}
