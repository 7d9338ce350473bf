package domain

// Direction values written to the ledger.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// RawFill represents a raw on-chain order-filled event from Goldsky. Amounts
// are base-unit integers kept as decimal strings so subgraph BigInt values
// survive storage unchanged.
type RawFill struct {
	// ID is the subgraph event id. It is used to deduplicate a fetched page
	// and is not persisted.
	ID                string
	Timestamp         int64
	Maker             string
	MakerAssetID      string
	MakerAmountFilled string
	Taker             string
	TakerAssetID      string
	TakerAmountFilled string
	TransactionHash   string
}

// Trade is one row of the normalized trade ledger. MarketID and NonUSDCSide
// are nil when the non-quote asset could not be matched to a market. Price,
// USDAmount and TokenAmount are NaN when undefined.
type Trade struct {
	Timestamp       int64
	MarketID        *string
	Maker           string
	Taker           string
	NonUSDCSide     *string // "token1" or "token2"
	MakerDirection  string  // "BUY" or "SELL"
	TakerDirection  string  // "BUY" or "SELL"
	Price           float64
	USDAmount       float64
	TokenAmount     float64
	TransactionHash string
}

// Watermark identifies the last raw event already present in the ledger.
// Timestamp alone is not unique, so the cursor is the 4-tuple.
type Watermark struct {
	Timestamp       int64
	TransactionHash string
	Maker           string
	Taker           string
}

// Matches reports whether the fill carries the same composite key.
func (w Watermark) Matches(f RawFill) bool {
	return f.Timestamp == w.Timestamp &&
		f.TransactionHash == w.TransactionHash &&
		f.Maker == w.Maker &&
		f.Taker == w.Taker
}
