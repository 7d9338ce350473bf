package parquetstore

import (
	"time"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// fillRecord is the on-disk schema of goldsky/orderFilled.parquet.
type fillRecord struct {
	Timestamp         int64  `parquet:"name=timestamp, type=INT64"`
	Maker             string `parquet:"name=maker, type=BYTE_ARRAY, convertedtype=UTF8"`
	MakerAssetID      string `parquet:"name=makerAssetId, type=BYTE_ARRAY, convertedtype=UTF8"`
	MakerAmountFilled string `parquet:"name=makerAmountFilled, type=BYTE_ARRAY, convertedtype=UTF8"`
	Taker             string `parquet:"name=taker, type=BYTE_ARRAY, convertedtype=UTF8"`
	TakerAssetID      string `parquet:"name=takerAssetId, type=BYTE_ARRAY, convertedtype=UTF8"`
	TakerAmountFilled string `parquet:"name=takerAmountFilled, type=BYTE_ARRAY, convertedtype=UTF8"`
	TransactionHash   string `parquet:"name=transactionHash, type=BYTE_ARRAY, convertedtype=UTF8"`
}

var fillColumns = []string{
	"timestamp", "maker", "makerAssetId", "makerAmountFilled",
	"taker", "takerAssetId", "takerAmountFilled", "transactionHash",
}

func fillToRecord(f domain.RawFill) fillRecord {
	return fillRecord{
		Timestamp:         f.Timestamp,
		Maker:             f.Maker,
		MakerAssetID:      f.MakerAssetID,
		MakerAmountFilled: f.MakerAmountFilled,
		Taker:             f.Taker,
		TakerAssetID:      f.TakerAssetID,
		TakerAmountFilled: f.TakerAmountFilled,
		TransactionHash:   f.TransactionHash,
	}
}

func (r fillRecord) toDomain() domain.RawFill {
	return domain.RawFill{
		Timestamp:         r.Timestamp,
		Maker:             r.Maker,
		MakerAssetID:      r.MakerAssetID,
		MakerAmountFilled: r.MakerAmountFilled,
		Taker:             r.Taker,
		TakerAssetID:      r.TakerAssetID,
		TakerAmountFilled: r.TakerAmountFilled,
		TransactionHash:   r.TransactionHash,
	}
}

// marketRecord is the on-disk schema of markets.parquet and
// missing_markets.parquet. createdAt keeps the API's ISO-8601 text.
type marketRecord struct {
	CreatedAt   string `parquet:"name=createdAt, type=BYTE_ARRAY, convertedtype=UTF8"`
	ID          string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Question    string `parquet:"name=question, type=BYTE_ARRAY, convertedtype=UTF8"`
	Answer1     string `parquet:"name=answer1, type=BYTE_ARRAY, convertedtype=UTF8"`
	Answer2     string `parquet:"name=answer2, type=BYTE_ARRAY, convertedtype=UTF8"`
	NegRisk     bool   `parquet:"name=neg_risk, type=BOOLEAN"`
	MarketSlug  string `parquet:"name=market_slug, type=BYTE_ARRAY, convertedtype=UTF8"`
	Token1      string `parquet:"name=token1, type=BYTE_ARRAY, convertedtype=UTF8"`
	Token2      string `parquet:"name=token2, type=BYTE_ARRAY, convertedtype=UTF8"`
	ConditionID string `parquet:"name=condition_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Volume      string `parquet:"name=volume, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ticker      string `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClosedTime  string `parquet:"name=closedTime, type=BYTE_ARRAY, convertedtype=UTF8"`
}

var marketColumns = []string{"createdAt", "id", "token1", "token2"}

func marketToRecord(m domain.Market) marketRecord {
	created := ""
	if !m.CreatedAt.IsZero() {
		created = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return marketRecord{
		CreatedAt:   created,
		ID:          m.ID,
		Question:    m.Question,
		Answer1:     m.Answer1,
		Answer2:     m.Answer2,
		NegRisk:     m.NegRisk,
		MarketSlug:  m.Slug,
		Token1:      m.Token1,
		Token2:      m.Token2,
		ConditionID: m.ConditionID,
		Volume:      m.Volume,
		Ticker:      m.Ticker,
		ClosedTime:  m.ClosedTime,
	}
}

func (r marketRecord) toDomain() domain.Market {
	return domain.Market{
		ID:          r.ID,
		CreatedAt:   domain.ParseMarketTime(r.CreatedAt),
		Question:    r.Question,
		Answer1:     r.Answer1,
		Answer2:     r.Answer2,
		NegRisk:     r.NegRisk,
		Slug:        r.MarketSlug,
		Token1:      r.Token1,
		Token2:      r.Token2,
		ConditionID: r.ConditionID,
		Volume:      r.Volume,
		Ticker:      r.Ticker,
		ClosedTime:  r.ClosedTime,
	}
}

// tradeRecord is the on-disk schema of processed/trades.parquet. The
// timestamp column is stored in milliseconds so analytics tools read it as a
// datetime; the ledger only ever holds whole seconds.
type tradeRecord struct {
	Timestamp       int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	MarketID        *string `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Maker           string  `parquet:"name=maker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Taker           string  `parquet:"name=taker, type=BYTE_ARRAY, convertedtype=UTF8"`
	NonUSDCSide     *string `parquet:"name=nonusdc_side, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MakerDirection  string  `parquet:"name=maker_direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	TakerDirection  string  `parquet:"name=taker_direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price           float64 `parquet:"name=price, type=DOUBLE"`
	USDAmount       float64 `parquet:"name=usd_amount, type=DOUBLE"`
	TokenAmount     float64 `parquet:"name=token_amount, type=DOUBLE"`
	TransactionHash string  `parquet:"name=transactionHash, type=BYTE_ARRAY, convertedtype=UTF8"`
}

var tradeColumns = []string{
	"timestamp", "market_id", "maker", "taker", "nonusdc_side",
	"maker_direction", "taker_direction", "price", "usd_amount",
	"token_amount", "transactionHash",
}

func tradeToRecord(t domain.Trade) tradeRecord {
	return tradeRecord{
		Timestamp:       t.Timestamp * 1000,
		MarketID:        t.MarketID,
		Maker:           t.Maker,
		Taker:           t.Taker,
		NonUSDCSide:     t.NonUSDCSide,
		MakerDirection:  t.MakerDirection,
		TakerDirection:  t.TakerDirection,
		Price:           t.Price,
		USDAmount:       t.USDAmount,
		TokenAmount:     t.TokenAmount,
		TransactionHash: t.TransactionHash,
	}
}

func (r tradeRecord) toDomain() domain.Trade {
	return domain.Trade{
		Timestamp:       r.Timestamp / 1000,
		MarketID:        r.MarketID,
		Maker:           r.Maker,
		Taker:           r.Taker,
		NonUSDCSide:     r.NonUSDCSide,
		MakerDirection:  r.MakerDirection,
		TakerDirection:  r.TakerDirection,
		Price:           r.Price,
		USDAmount:       r.USDAmount,
		TokenAmount:     r.TokenAmount,
		TransactionHash: r.TransactionHash,
	}
}
