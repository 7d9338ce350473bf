package parquetstore

import (
	"github.com/alanyoungcy/polyledger/internal/domain"
)

// LedgerTable is the normalized trade ledger. Its physical row order is the
// processing order and is the only resume state the pipeline keeps.
type LedgerTable struct {
	path string
}

// NewLedgerTable returns a LedgerTable stored at path.
func NewLedgerTable(path string) *LedgerTable {
	return &LedgerTable{path: path}
}

// Path returns the file location.
func (t *LedgerTable) Path() string { return t.path }

// Exists reports whether the table file is present.
func (t *LedgerTable) Exists() (bool, error) { return exists(t.path) }

// Read returns every trade in physical row order.
func (t *LedgerTable) Read() ([]domain.Trade, error) {
	recs, err := readAll[tradeRecord](t.path, tradeColumns)
	if err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, len(recs))
	for i := range recs {
		trades[i] = recs[i].toDomain()
	}
	return trades, nil
}

// Write atomically replaces the ledger with trades.
func (t *LedgerTable) Write(trades []domain.Trade) error {
	recs := make([]tradeRecord, len(trades))
	for i, tr := range trades {
		recs[i] = tradeToRecord(tr)
	}
	return writeAll(t.path, recs)
}
