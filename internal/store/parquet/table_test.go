package parquetstore

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestLedgerRoundTripKeepsNullsAndNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed", "trades.parquet")
	tbl := NewLedgerTable(path)

	trades := []domain.Trade{
		{
			Timestamp:       1700000000,
			MarketID:        strPtr("m1"),
			Maker:           "0xm",
			Taker:           "0xt",
			NonUSDCSide:     strPtr(domain.SideToken1),
			MakerDirection:  domain.DirectionSell,
			TakerDirection:  domain.DirectionBuy,
			Price:           0.5,
			USDAmount:       2.5,
			TokenAmount:     5,
			TransactionHash: "0xaa",
		},
		{
			Timestamp:       1700000001,
			Maker:           "0xm2",
			Taker:           "0xt2",
			MakerDirection:  domain.DirectionBuy,
			TakerDirection:  domain.DirectionSell,
			Price:           math.NaN(),
			USDAmount:       0,
			TokenAmount:     0,
			TransactionHash: "0xbb",
		},
	}
	require.NoError(t, tbl.Write(trades))

	ok, err := tbl.Exists()
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := tbl.Read()
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, trades[0], got[0])
	assert.Nil(t, got[1].MarketID)
	assert.Nil(t, got[1].NonUSDCSide)
	assert.True(t, math.IsNaN(got[1].Price))
	assert.Equal(t, int64(1700000001), got[1].Timestamp)
}

func TestFillAppendPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goldsky", "orderFilled.parquet")
	tbl := NewFillTable(path)

	first := []domain.RawFill{
		{Timestamp: 3, Maker: "a", MakerAssetID: "0", MakerAmountFilled: "1", TakerAssetID: "111", TakerAmountFilled: "2", TransactionHash: "0x1"},
		{Timestamp: 1, Maker: "b", MakerAssetID: "111", MakerAmountFilled: "123456789012345678901234567890", TakerAssetID: "0", TakerAmountFilled: "4", TransactionHash: "0x2"},
	}
	n, err := tbl.Append(first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = tbl.Append([]domain.RawFill{{Timestamp: 2, Maker: "c", TransactionHash: "0x3"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tbl.Append(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := tbl.Read()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Maker, got[1].Maker, got[2].Maker})
	assert.Equal(t, "123456789012345678901234567890", got[1].MakerAmountFilled)
}

func TestMarketTableCountAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.parquet")
	tbl := NewMarketTable(path)

	n, err := tbl.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err = tbl.Append([]domain.Market{
		{ID: "1", CreatedAt: created, Token1: "t1", Token2: "t2", NegRisk: true, Question: "Q?"},
		{ID: "2", Token1: "t3", Token2: "t4"},
	})
	require.NoError(t, err)

	n, err = tbl.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := tbl.Read()
	require.NoError(t, err)
	assert.Equal(t, created, got[0].CreatedAt)
	assert.True(t, got[0].NegRisk)
	assert.Equal(t, "Q?", got[0].Question)
	assert.True(t, got[1].CreatedAt.IsZero())
}

func TestReadMissingFile(t *testing.T) {
	_, err := NewFillTable(filepath.Join(t.TempDir(), "nope.parquet")).Read()
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadRejectsMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orderFilled.parquet")

	// A market file carries none of the fill columns; reading it as fills
	// must fail rather than yield zero values.
	require.NoError(t, NewMarketTable(path).Write([]domain.Market{{ID: "1", Token1: "a", Token2: "b"}}))

	_, err := NewFillTable(path).Read()
	assert.ErrorIs(t, err, domain.ErrTableCorrupt)
}

func TestReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.parquet")
	require.NoError(t, os.WriteFile(path, []byte("not a parquet file at all"), 0o644))

	_, err := NewLedgerTable(path).Read()
	assert.ErrorIs(t, err, domain.ErrTableCorrupt)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	tbl := NewLedgerTable(filepath.Join(dir, "trades.parquet"))

	require.NoError(t, tbl.Write([]domain.Trade{{Timestamp: 1, TransactionHash: "0x1", Price: 1}}))
	require.NoError(t, tbl.Write([]domain.Trade{{Timestamp: 2, TransactionHash: "0x2", Price: 2}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trades.parquet", entries[0].Name())

	got, err := tbl.Read()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0x2", got[0].TransactionHash)
}

func TestInterruptedWriteKeepsPreviousLedger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.parquet")
	tbl := NewLedgerTable(path)

	prior := []domain.Trade{
		{Timestamp: 1, TransactionHash: "0x1", Price: 0.25},
		{Timestamp: 2, TransactionHash: "0x2", Price: 0.75},
	}
	require.NoError(t, tbl.Write(prior))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	renameFile = func(string, string) error { return errors.New("disk went away") }
	t.Cleanup(func() { renameFile = os.Rename })

	err = tbl.Write(append(prior, domain.Trade{Timestamp: 3, TransactionHash: "0x3", Price: 0.5}))
	require.ErrorContains(t, err, "disk went away")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, err := tbl.Read()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0x2", got[1].TransactionHash)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
	assert.Len(t, entries, 1)
}

func TestExistsRejectsDirectory(t *testing.T) {
	_, err := NewLedgerTable(t.TempDir()).Exists()
	assert.Error(t, err)
}
