package pipeline

import "github.com/alanyoungcy/polyledger/internal/domain"

// ResumePoint returns the composite key of the last physical ledger row, or
// nil for an empty ledger.
func ResumePoint(ledger []domain.Trade) *domain.Watermark {
	if len(ledger) == 0 {
		return nil
	}
	last := ledger[len(ledger)-1]
	return &domain.Watermark{
		Timestamp:       last.Timestamp,
		TransactionHash: last.TransactionHash,
		Maker:           last.Maker,
		Taker:           last.Taker,
	}
}

// SliceResult is the unprocessed tail of the raw table.
type SliceResult struct {
	Rows []domain.RawFill
	// Resumed is true when a watermark was supplied.
	Resumed bool
	// WatermarkFound is false when a watermark was supplied but matched no
	// raw row; Rows is then the whole table.
	WatermarkFound bool
	// MatchIndex is the raw row the watermark matched, or -1.
	MatchIndex int
}

// SliceUnprocessed returns the raw rows after the first row matching wm.
// Duplicate raw rows sharing the watermark key resolve to the earliest one.
// A nil watermark, or one that matches nothing, yields the whole table.
func SliceUnprocessed(raw []domain.RawFill, wm *domain.Watermark) SliceResult {
	if wm == nil {
		return SliceResult{Rows: raw, MatchIndex: -1}
	}
	for i := range raw {
		if wm.Matches(raw[i]) {
			return SliceResult{
				Rows:           raw[i+1:],
				Resumed:        true,
				WatermarkFound: true,
				MatchIndex:     i,
			}
		}
	}
	return SliceResult{Rows: raw, Resumed: true, MatchIndex: -1}
}
