package pipeline

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// QuoteAssetID is the asset id the exchange uses for the USDC collateral leg.
// A leg carrying it is the quote leg; the other leg is the outcome token.
const QuoteAssetID = "0"

// DefaultQuoteDecimals is the base-unit exponent of both USDC and the
// outcome tokens.
const DefaultQuoteDecimals = 6

// NormalizeStats counts what a Normalize call produced.
type NormalizeStats struct {
	RowsIn     int
	RowsOut    int
	Unresolved int
	NaNPrice   int
	BothQuote  int
	// UnresolvedTokens lists the distinct non-quote asset ids that had no
	// market, in first-seen order.
	UnresolvedTokens []string
}

// Normalizer derives ledger rows from raw fills.
type Normalizer struct {
	decimals int32
}

// NewNormalizer returns a Normalizer that scales amounts by 10^decimals.
func NewNormalizer(decimals int) *Normalizer {
	return &Normalizer{decimals: int32(decimals)}
}

// Normalize converts fills into trades, one per fill and in the same order.
// Fills whose asset has no market are still emitted with a nil MarketID and
// NonUSDCSide.
func (n *Normalizer) Normalize(fills []domain.RawFill, lookup domain.SideLookup) ([]domain.Trade, NormalizeStats) {
	stats := NormalizeStats{RowsIn: len(fills)}
	trades := make([]domain.Trade, 0, len(fills))
	missing := make(map[string]struct{})

	for _, f := range fills {
		makerQuote := f.MakerAssetID == QuoteAssetID
		takerQuote := f.TakerAssetID == QuoteAssetID

		assetID := f.MakerAssetID
		if makerQuote {
			assetID = f.TakerAssetID
		}

		var marketID, side *string
		if ms, ok := lookup[assetID]; ok {
			marketID = ptr(ms.MarketID)
			side = ptr(ms.Side)
		} else {
			stats.Unresolved++
			if _, seen := missing[assetID]; !seen && assetID != "" && assetID != QuoteAssetID {
				missing[assetID] = struct{}{}
				stats.UnresolvedTokens = append(stats.UnresolvedTokens, assetID)
			}
		}

		makerAmount, makerOK := n.scale(f.MakerAmountFilled)
		takerAmount, takerOK := n.scale(f.TakerAmountFilled)

		t := domain.Trade{
			Timestamp:       f.Timestamp,
			MarketID:        marketID,
			Maker:           f.Maker,
			Taker:           f.Taker,
			TransactionHash: f.TransactionHash,
		}

		if takerQuote {
			t.TakerDirection = domain.DirectionBuy
			t.MakerDirection = domain.DirectionSell
			t.USDAmount = takerAmount
			t.TokenAmount = makerAmount
		} else {
			t.TakerDirection = domain.DirectionSell
			t.MakerDirection = domain.DirectionBuy
			t.USDAmount = makerAmount
			t.TokenAmount = takerAmount
		}

		// Both legs quoted leaves no outcome token to name.
		if !makerQuote || !takerQuote {
			t.NonUSDCSide = side
		}

		switch {
		case makerQuote && takerQuote:
			stats.BothQuote++
			t.Price = math.NaN()
		case !makerOK || !takerOK:
			t.Price = math.NaN()
		case takerQuote:
			t.Price = ratio(f.TakerAmountFilled, f.MakerAmountFilled)
		default:
			t.Price = ratio(f.MakerAmountFilled, f.TakerAmountFilled)
		}
		if math.IsNaN(t.Price) {
			stats.NaNPrice++
		}

		trades = append(trades, t)
	}

	stats.RowsOut = len(trades)
	return trades, stats
}

// scale converts a base-unit integer string to a float in whole units.
// Malformed input yields NaN and false.
func (n *Normalizer) scale(amount string) (float64, bool) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return math.NaN(), false
	}
	return d.Shift(-n.decimals).InexactFloat64(), true
}

// ratio divides two base-unit amounts. Both legs share the same scale, so the
// exponent cancels. A zero denominator yields NaN.
func ratio(num, den string) float64 {
	a, err := decimal.NewFromString(num)
	if err != nil {
		return math.NaN()
	}
	b, err := decimal.NewFromString(den)
	if err != nil || b.IsZero() {
		return math.NaN()
	}
	return a.DivRound(b, 18).InexactFloat64()
}

func ptr(s string) *string { return &s }
