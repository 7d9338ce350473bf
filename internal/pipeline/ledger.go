package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// LedgerStore is the persisted trade ledger.
type LedgerStore interface {
	Path() string
	Exists() (bool, error)
	Read() ([]domain.Trade, error)
	Write(trades []domain.Trade) error
}

// LedgerWriter appends normalized trades to the ledger. Each append reads the
// whole table and rewrites it, so cost grows with ledger size; the store's
// atomic replace keeps the previous ledger intact if a write is interrupted.
type LedgerWriter struct {
	store  LedgerStore
	logger *slog.Logger
}

// NewLedgerWriter creates a LedgerWriter over store.
func NewLedgerWriter(store LedgerStore, logger *slog.Logger) *LedgerWriter {
	return &LedgerWriter{store: store, logger: logger}
}

// Append writes rows after the existing ledger rows and returns how many were
// written. Zero rows leave the ledger untouched. Callers must hold the ledger
// lock.
func (w *LedgerWriter) Append(ctx context.Context, rows []domain.Trade) (int, error) {
	if len(rows) == 0 {
		w.logger.InfoContext(ctx, "no new trades, ledger unchanged", slog.String("path", w.store.Path()))
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("ledger: append: %w", err)
	}

	ok, err := w.store.Exists()
	if err != nil {
		return 0, fmt.Errorf("ledger: stat %s: %w", w.store.Path(), err)
	}

	var existing []domain.Trade
	if ok {
		existing, err = w.store.Read()
		if err != nil {
			return 0, fmt.Errorf("ledger: read %s: %w", w.store.Path(), err)
		}
	}

	combined := make([]domain.Trade, 0, len(existing)+len(rows))
	combined = append(combined, existing...)
	combined = append(combined, rows...)

	if err := w.store.Write(combined); err != nil {
		return 0, fmt.Errorf("ledger: write %s: %w", w.store.Path(), err)
	}

	w.logger.InfoContext(ctx, "ledger updated",
		slog.String("path", w.store.Path()),
		slog.Bool("created", !ok),
		slog.Int("appended", len(rows)),
		slog.Int("total", len(combined)),
	)
	return len(rows), nil
}
