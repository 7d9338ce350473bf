package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

func writeCSV(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func migrationPlan(tt testTables) MigrationPlan {
	return MigrationPlan{
		MarketsCSV: filepath.Join(tt.dir, LegacyMarketsCSV),
		Markets:    tt.markets,
		MissingCSV: filepath.Join(tt.dir, LegacyMissingCSV),
		Missing:    tt.missing,
		FillsCSV:   filepath.Join(tt.dir, LegacyFillsCSV),
		Fills:      tt.fills,
		LedgerCSV:  filepath.Join(tt.dir, LegacyLedgerCSV),
		Ledger:     tt.ledger,
	}
}

func TestMigrateConvertsLegacyTables(t *testing.T) {
	tt := newTestTables(t)
	plan := migrationPlan(tt)

	writeCSV(t, plan.MarketsCSV, "\ufeffcreatedAt,id,question,answer1,answer2,neg_risk,market_slug,token1,token2,condition_id,volume,ticker,closedTime\n"+
		"2022-01-02 03:04:05.123000+00:00,12,Will it rain?,Yes,No,True,rain,111,222,0xc,10.5,RAIN,\n"+
		"2022-01-01T00:00:00Z,11,Older,Yes,No,False,old,333,444,0xd,1,,\n")
	writeCSV(t, plan.FillsCSV, "timestamp,maker,makerAssetId,makerAmountFilled,taker,takerAssetId,takerAmountFilled,transactionHash\n"+
		"1700000000,alice,111,5000000.0,bob,0,2500000,0xa\n"+
		"1700000001,carol,0,1e6,dave,444,2000000,0xb\n")
	writeCSV(t, plan.LedgerCSV, "timestamp,market_id,maker,taker,nonusdc_side,maker_direction,taker_direction,price,usd_amount,token_amount,transactionHash\n"+
		"2023-11-14 22:13:20,12,alice,bob,token1,SELL,BUY,0.5,2.5,5.0,0xa\n"+
		"1700000001,,carol,dave,,BUY,SELL,,1.0,2.0,0xb\n")

	results, err := NewMigrator(plan, discardLogger()).Migrate(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, results, 3, "missing_markets.csv is absent and skipped")

	markets, err := tt.markets.Read()
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "12", markets[0].ID)
	assert.True(t, markets[0].NegRisk)
	assert.Equal(t, 2022, markets[0].CreatedAt.Year())
	assert.Equal(t, "rain", markets[0].Slug)

	fills, err := tt.fills.Read()
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "5000000", fills[0].MakerAmountFilled)
	assert.Equal(t, "1000000", fills[1].MakerAmountFilled)
	assert.Equal(t, int64(1700000000), fills[0].Timestamp)

	ledger, err := tt.ledger.Read()
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, int64(1700000000), ledger[0].Timestamp)
	assert.Equal(t, "12", deref(ledger[0].MarketID))
	assert.Nil(t, ledger[1].MarketID)
	assert.True(t, math.IsNaN(ledger[1].Price))

	// The migrated ledger resumes against the migrated fills.
	wm := ResumePoint(ledger)
	assert.True(t, SliceUnprocessed(fills, wm).WatermarkFound)
}

func TestMigrateSkipsExistingUnlessForced(t *testing.T) {
	tt := newTestTables(t)
	plan := MigrationPlan{MarketsCSV: filepath.Join(tt.dir, LegacyMarketsCSV), Markets: tt.markets}
	writeCSV(t, plan.MarketsCSV, "createdAt,id,token1,token2\n2022-01-01,1,a,b\n")
	require.NoError(t, tt.markets.Write([]domain.Market{{ID: "existing"}}))

	m := NewMigrator(plan, discardLogger())
	results, err := m.Migrate(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)

	markets, err := tt.markets.Read()
	require.NoError(t, err)
	assert.Equal(t, "existing", markets[0].ID)

	results, err = m.Migrate(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, results[0].Skipped)
	assert.Equal(t, 1, results[0].Rows)

	markets, err = tt.markets.Read()
	require.NoError(t, err)
	assert.Equal(t, "1", markets[0].ID)
}

func TestMigrateReportsBadFilesAndContinues(t *testing.T) {
	tt := newTestTables(t)
	plan := migrationPlan(tt)
	writeCSV(t, plan.MarketsCSV, "id,question\n1,no tokens\n")
	writeCSV(t, plan.MissingCSV, "createdAt,id,token1,token2\n2022-01-01,9,x,y\n")

	results, err := NewMigrator(plan, discardLogger()).Migrate(context.Background(), false)
	assert.ErrorIs(t, err, domain.ErrTableCorrupt)
	require.Len(t, results, 1)
	assert.Equal(t, plan.MissingCSV, results[0].CSV)

	ok, _ := tt.markets.Exists()
	assert.False(t, ok)
}

func TestParseUnixSeconds(t *testing.T) {
	for in, want := range map[string]int64{
		"1700000000":           1700000000,
		"1700000000.0":         1700000000,
		" 42 ":                 42,
		"2023-11-14T22:13:20Z": 1700000000,
	} {
		got, err := parseUnixSeconds(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseUnixSeconds("yesterday")
	assert.Error(t, err)
}

func TestIntegerText(t *testing.T) {
	assert.Equal(t, "5000000", integerText("5000000.0"))
	assert.Equal(t, "5000000", integerText("5e6"))
	assert.Equal(t, "123456789012345678901234567890", integerText("123456789012345678901234567890"))
	assert.Equal(t, "1.5", integerText("1.5"))
	assert.Equal(t, "n/a", integerText("n/a"))
}
