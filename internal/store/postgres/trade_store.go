package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// insertChunk bounds the number of statements queued in one pgx batch.
const insertChunk = 5000

// TradeStore mirrors ledger rows into the trades table.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const insertTradeSQL = `
	INSERT INTO trades (
		ledger_row, run_id, timestamp, market_id, maker, taker, nonusdc_side,
		maker_direction, taker_direction, price, usd_amount, token_amount, tx_hash
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12, $13
	) ON CONFLICT (ledger_row) DO NOTHING`

// InsertBatch inserts trades whose ledger positions start at firstRow.
// Rows already mirrored are skipped, so re-exporting a range is harmless.
func (s *TradeStore) InsertBatch(ctx context.Context, runID string, firstRow int, trades []domain.Trade) error {
	for start := 0; start < len(trades); start += insertChunk {
		end := min(start+insertChunk, len(trades))

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			batch.Queue(insertTradeSQL, tradeArgs(runID, firstRow+i, trades[i])...)
		}

		if err := s.sendBatch(ctx, batch, end-start); err != nil {
			return fmt.Errorf("postgres: insert trades from ledger row %d: %w", firstRow+start, err)
		}
	}
	return nil
}

func (s *TradeStore) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}

// Count returns the number of mirrored rows.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}

// Name identifies the store in run logs.
func (s *TradeStore) Name() string { return "postgres" }

// Export mirrors the rows a run appended to the ledger.
func (s *TradeStore) Export(ctx context.Context, run domain.RunInfo, firstRow int, written []domain.Trade) error {
	return s.InsertBatch(ctx, run.ID, firstRow, written)
}

// tradeArgs orders a trade's values to match insertTradeSQL. NaN amounts and
// prices are stored as NULL.
func tradeArgs(runID string, row int, t domain.Trade) []any {
	return []any{
		int64(row),
		runID,
		time.Unix(t.Timestamp, 0).UTC(),
		t.MarketID,
		t.Maker,
		t.Taker,
		t.NonUSDCSide,
		t.MakerDirection,
		t.TakerDirection,
		nullableFloat(t.Price),
		nullableFloat(t.USDAmount),
		nullableFloat(t.TokenAmount),
		t.TransactionHash,
	}
}

func nullableFloat(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
