package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// Legacy CSV locations, relative to the data directory.
const (
	LegacyMarketsCSV = "markets.csv"
	LegacyMissingCSV = "missing_markets.csv"
	LegacyFillsCSV   = "goldsky/orderFilled.csv"
	LegacyLedgerCSV  = "processed/trades.csv"
)

// MarketWriter replaces a market table.
type MarketWriter interface {
	Path() string
	Exists() (bool, error)
	Write(markets []domain.Market) error
}

// FillWriter replaces the raw fill table.
type FillWriter interface {
	Path() string
	Exists() (bool, error)
	Write(fills []domain.RawFill) error
}

// MigrationPlan pairs each legacy CSV with its Parquet table. Empty CSV
// paths are skipped.
type MigrationPlan struct {
	MarketsCSV string
	Markets    MarketWriter
	MissingCSV string
	Missing    MarketWriter
	FillsCSV   string
	Fills      FillWriter
	LedgerCSV  string
	Ledger     LedgerStore
}

// MigrationResult describes one converted file.
type MigrationResult struct {
	CSV          string
	Parquet      string
	Rows         int
	Skipped      bool
	CSVBytes     int64
	ParquetBytes int64
}

// Migrator converts the legacy CSV tables into Parquet.
type Migrator struct {
	plan   MigrationPlan
	logger *slog.Logger
}

// NewMigrator creates a new Migrator.
func NewMigrator(plan MigrationPlan, logger *slog.Logger) *Migrator {
	return &Migrator{plan: plan, logger: logger.With(slog.String("component", "migrator"))}
}

type migrationStep struct {
	csvPath string
	target  interface {
		Path() string
		Exists() (bool, error)
	}
	convert func(rows []map[string]string) (int, error)
}

// Migrate converts every planned file. Existing Parquet tables are left
// alone unless force is set. A failing file does not stop the others; all
// failures are returned joined.
func (m *Migrator) Migrate(ctx context.Context, force bool) ([]MigrationResult, error) {
	steps := []migrationStep{
		{m.plan.MarketsCSV, m.plan.Markets, func(rows []map[string]string) (int, error) {
			return writeMarketsCSV(m.plan.Markets, rows)
		}},
		{m.plan.MissingCSV, m.plan.Missing, func(rows []map[string]string) (int, error) {
			return writeMarketsCSV(m.plan.Missing, rows)
		}},
		{m.plan.FillsCSV, m.plan.Fills, func(rows []map[string]string) (int, error) {
			fills, err := fillsFromCSV(rows)
			if err != nil {
				return 0, err
			}
			return len(fills), m.plan.Fills.Write(fills)
		}},
		{m.plan.LedgerCSV, m.plan.Ledger, func(rows []map[string]string) (int, error) {
			trades, err := tradesFromCSV(rows)
			if err != nil {
				return 0, err
			}
			return len(trades), m.plan.Ledger.Write(trades)
		}},
	}

	var (
		results []MigrationResult
		errs    []error
	)
	for _, step := range steps {
		if step.csvPath == "" || step.target == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := m.migrateOne(ctx, step, force)
		if err != nil {
			m.logger.ErrorContext(ctx, "migration failed",
				slog.String("csv", step.csvPath),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}

	return results, errors.Join(errs...)
}

func (m *Migrator) migrateOne(ctx context.Context, step migrationStep, force bool) (*MigrationResult, error) {
	csvInfo, err := os.Stat(step.csvPath)
	if errors.Is(err, os.ErrNotExist) {
		m.logger.InfoContext(ctx, "csv not found, skipping", slog.String("csv", step.csvPath))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrate: stat %s: %w", step.csvPath, err)
	}

	res := &MigrationResult{CSV: step.csvPath, Parquet: step.target.Path(), CSVBytes: csvInfo.Size()}

	exists, err := step.target.Exists()
	if err != nil {
		return nil, fmt.Errorf("migrate: stat %s: %w", step.target.Path(), err)
	}
	if exists && !force {
		m.logger.WarnContext(ctx, "parquet table exists, skipping (use -force to overwrite)",
			slog.String("parquet", step.target.Path()),
		)
		res.Skipped = true
		return res, nil
	}

	rows, err := readCSV(step.csvPath)
	if err != nil {
		return nil, err
	}

	n, err := step.convert(rows)
	if err != nil {
		return nil, fmt.Errorf("migrate: %s: %w", step.csvPath, err)
	}
	res.Rows = n

	if info, err := os.Stat(step.target.Path()); err == nil {
		res.ParquetBytes = info.Size()
	}

	attrs := []any{
		slog.String("csv", res.CSV),
		slog.String("parquet", res.Parquet),
		slog.Int("rows", res.Rows),
		slog.Int64("csv_bytes", res.CSVBytes),
		slog.Int64("parquet_bytes", res.ParquetBytes),
	}
	if res.CSVBytes > 0 {
		saved := (1 - float64(res.ParquetBytes)/float64(res.CSVBytes)) * 100
		attrs = append(attrs, slog.String("space_saved", strconv.FormatFloat(saved, 'f', 1, 64)+"%"))
	}
	m.logger.InfoContext(ctx, "migrated csv to parquet", attrs...)
	return res, nil
}

// readCSV returns the data rows keyed by header name.
func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("migrate: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrate: read header of %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]string
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("migrate: %s line %d: %w", path, line, err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func requireColumns(rows []map[string]string, cols ...string) error {
	if len(rows) == 0 {
		return nil
	}
	var missing []string
	for _, c := range cols {
		if _, ok := rows[0][c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing columns %s", domain.ErrTableCorrupt, strings.Join(missing, ", "))
	}
	return nil
}

func writeMarketsCSV(w MarketWriter, rows []map[string]string) (int, error) {
	if err := requireColumns(rows, "createdAt", "id", "token1", "token2"); err != nil {
		return 0, err
	}
	markets := make([]domain.Market, 0, len(rows))
	for _, r := range rows {
		negRisk, _ := strconv.ParseBool(strings.TrimSpace(r["neg_risk"]))
		markets = append(markets, domain.Market{
			ID:          r["id"],
			CreatedAt:   domain.ParseMarketTime(r["createdAt"]),
			Question:    r["question"],
			Answer1:     r["answer1"],
			Answer2:     r["answer2"],
			NegRisk:     negRisk,
			Slug:        r["market_slug"],
			Token1:      r["token1"],
			Token2:      r["token2"],
			ConditionID: r["condition_id"],
			Volume:      r["volume"],
			Ticker:      r["ticker"],
			ClosedTime:  r["closedTime"],
		})
	}
	return len(markets), w.Write(markets)
}

func fillsFromCSV(rows []map[string]string) ([]domain.RawFill, error) {
	if err := requireColumns(rows, fillCSVColumns...); err != nil {
		return nil, err
	}
	fills := make([]domain.RawFill, 0, len(rows))
	for i, r := range rows {
		ts, err := parseUnixSeconds(r["timestamp"])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		fills = append(fills, domain.RawFill{
			Timestamp:         ts,
			Maker:             r["maker"],
			MakerAssetID:      r["makerAssetId"],
			MakerAmountFilled: integerText(r["makerAmountFilled"]),
			Taker:             r["taker"],
			TakerAssetID:      r["takerAssetId"],
			TakerAmountFilled: integerText(r["takerAmountFilled"]),
			TransactionHash:   r["transactionHash"],
		})
	}
	return fills, nil
}

var fillCSVColumns = []string{
	"timestamp", "maker", "makerAssetId", "makerAmountFilled",
	"taker", "takerAssetId", "takerAmountFilled", "transactionHash",
}

func tradesFromCSV(rows []map[string]string) ([]domain.Trade, error) {
	if err := requireColumns(rows, "timestamp", "maker", "taker", "transactionHash"); err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, 0, len(rows))
	for i, r := range rows {
		ts, err := parseUnixSeconds(r["timestamp"])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		trades = append(trades, domain.Trade{
			Timestamp:       ts,
			MarketID:        optionalText(r["market_id"]),
			Maker:           r["maker"],
			Taker:           r["taker"],
			NonUSDCSide:     optionalText(r["nonusdc_side"]),
			MakerDirection:  r["maker_direction"],
			TakerDirection:  r["taker_direction"],
			Price:           parseFloatOrNaN(r["price"]),
			USDAmount:       parseFloatOrNaN(r["usd_amount"]),
			TokenAmount:     parseFloatOrNaN(r["token_amount"]),
			TransactionHash: r["transactionHash"],
		})
	}
	return trades, nil
}

// parseUnixSeconds accepts integer seconds (possibly written as a float) or
// a datetime string.
func parseUnixSeconds(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if d, err := decimal.NewFromString(s); err == nil {
		return d.IntPart(), nil
	}
	if t := domain.ParseMarketTime(s); !t.IsZero() {
		return t.Unix(), nil
	}
	return 0, fmt.Errorf("bad timestamp %q", s)
}

// integerText normalises amounts that a spreadsheet round trip may have
// turned into "5000000.0" or "5e6". Unparseable text is kept so the
// normalizer reports it as NaN.
func integerText(s string) string {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return s
	}
	return d.Truncate(0).String()
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseFloatOrNaN(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
