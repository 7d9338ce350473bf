package pipeline

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/polyledger/internal/domain"
	parquetstore "github.com/alanyoungcy/polyledger/internal/store/parquet"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testTables struct {
	dir     string
	fills   *parquetstore.FillTable
	markets *parquetstore.MarketTable
	missing *parquetstore.MarketTable
	ledger  *parquetstore.LedgerTable
}

func newTestTables(t *testing.T) testTables {
	t.Helper()
	dir := t.TempDir()
	return testTables{
		dir:     dir,
		fills:   parquetstore.NewFillTable(filepath.Join(dir, "goldsky", "orderFilled.parquet")),
		markets: parquetstore.NewMarketTable(filepath.Join(dir, "markets.parquet")),
		missing: parquetstore.NewMarketTable(filepath.Join(dir, "missing_markets.parquet")),
		ledger:  parquetstore.NewLedgerTable(filepath.Join(dir, "processed", "trades.parquet")),
	}
}

func (tt testTables) sources() []MarketSource {
	return []MarketSource{tt.markets, tt.missing}
}

// fill builds a raw fill; an empty asset id means the quote leg.
func fill(ts int64, tx, maker, taker, makerAsset, makerAmt, takerAsset, takerAmt string) domain.RawFill {
	if makerAsset == "" {
		makerAsset = QuoteAssetID
	}
	if takerAsset == "" {
		takerAsset = QuoteAssetID
	}
	return domain.RawFill{
		Timestamp:         ts,
		Maker:             maker,
		MakerAssetID:      makerAsset,
		MakerAmountFilled: makerAmt,
		Taker:             taker,
		TakerAssetID:      takerAsset,
		TakerAmountFilled: takerAmt,
		TransactionHash:   tx,
	}
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
