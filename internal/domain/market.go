package domain

import "time"

// Side names used by the market lookup.
const (
	SideToken1 = "token1"
	SideToken2 = "token2"
)

// Market is one row of the market registry. Only ID, CreatedAt, Token1 and
// Token2 take part in trade normalization; the remaining fields are
// descriptive.
type Market struct {
	ID          string
	CreatedAt   time.Time
	Question    string
	Answer1     string
	Answer2     string
	NegRisk     bool
	Slug        string
	Token1      string
	Token2      string
	ConditionID string
	Volume      string
	Ticker      string
	ClosedTime  string
}

// MarketSide locates an outcome token within its market.
type MarketSide struct {
	MarketID string
	Side     string
}

// SideLookup maps an outcome token id to its market and side.
type SideLookup map[string]MarketSide

// marketTimeLayouts are the timestamp shapes seen in Gamma payloads and
// legacy CSV exports.
var marketTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseMarketTime parses a market timestamp. Empty or unparseable values yield
// the zero time, which sorts before every real market.
func ParseMarketTime(s string) time.Time {
	for _, layout := range marketTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// MarketPage is one page of the creation-ordered market listing. Fetched
// counts every entry the source returned, including ones that failed to
// decode, so callers can advance offsets and detect the final short page.
type MarketPage struct {
	Markets []Market
	Fetched int
}
