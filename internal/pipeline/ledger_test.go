package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

func trade(ts int64, tx string) domain.Trade {
	return domain.Trade{
		Timestamp:       ts,
		Maker:           "m",
		Taker:           "t",
		MakerDirection:  domain.DirectionSell,
		TakerDirection:  domain.DirectionBuy,
		Price:           0.5,
		USDAmount:       1,
		TokenAmount:     2,
		TransactionHash: tx,
	}
}

func TestLedgerWriterAppend(t *testing.T) {
	tt := newTestTables(t)
	w := NewLedgerWriter(tt.ledger, discardLogger())
	ctx := context.Background()

	n, err := w.Append(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	ok, err := tt.ledger.Exists()
	require.NoError(t, err)
	assert.False(t, ok, "zero rows must not create the ledger")

	n, err = w.Append(ctx, []domain.Trade{trade(1, "0x1"), trade(2, "0x2")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.Append(ctx, []domain.Trade{trade(3, "0x3")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := tt.ledger.Read()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range []string{"0x1", "0x2", "0x3"} {
		assert.Equal(t, want, got[i].TransactionHash)
	}
}

func TestLedgerWriterHonoursCancellation(t *testing.T) {
	tt := newTestTables(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLedgerWriter(tt.ledger, discardLogger()).Append(ctx, []domain.Trade{trade(1, "0x1")})
	assert.ErrorIs(t, err, context.Canceled)
	ok, _ := tt.ledger.Exists()
	assert.False(t, ok)
}
