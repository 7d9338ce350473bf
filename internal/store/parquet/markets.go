package parquetstore

import (
	"github.com/alanyoungcy/polyledger/internal/domain"
)

// MarketTable is a market metadata table (main or missing-token backfill).
type MarketTable struct {
	path string
}

// NewMarketTable returns a MarketTable stored at path.
func NewMarketTable(path string) *MarketTable {
	return &MarketTable{path: path}
}

// Path returns the file location.
func (t *MarketTable) Path() string { return t.path }

// Exists reports whether the table file is present.
func (t *MarketTable) Exists() (bool, error) { return exists(t.path) }

// Read returns every market in physical row order.
func (t *MarketTable) Read() ([]domain.Market, error) {
	recs, err := readAll[marketRecord](t.path, marketColumns)
	if err != nil {
		return nil, err
	}
	markets := make([]domain.Market, len(recs))
	for i := range recs {
		markets[i] = recs[i].toDomain()
	}
	return markets, nil
}

// Count returns the number of rows, or zero when the file is absent.
func (t *MarketTable) Count() (int, error) {
	ok, err := t.Exists()
	if err != nil || !ok {
		return 0, err
	}
	recs, err := readAll[marketRecord](t.path, marketColumns)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Append adds markets after the existing rows and rewrites the table.
func (t *MarketTable) Append(markets []domain.Market) (int, error) {
	if len(markets) == 0 {
		return 0, nil
	}
	var recs []marketRecord
	ok, err := t.Exists()
	if err != nil {
		return 0, err
	}
	if ok {
		recs, err = readAll[marketRecord](t.path, marketColumns)
		if err != nil {
			return 0, err
		}
	}
	for _, m := range markets {
		recs = append(recs, marketToRecord(m))
	}
	if err := writeAll(t.path, recs); err != nil {
		return 0, err
	}
	return len(markets), nil
}

// Write replaces the table with markets.
func (t *MarketTable) Write(markets []domain.Market) error {
	recs := make([]marketRecord, len(markets))
	for i, m := range markets {
		recs[i] = marketToRecord(m)
	}
	return writeAll(t.path, recs)
}
