package domain

import (
	"fmt"
	"time"
)

// RunInfo identifies a single batch run. It is created once by the caller and
// passed down explicitly so every component labels its output the same way.
type RunInfo struct {
	ID        string
	StartedAt time.Time
}

// Label returns the compact run timestamp used in object keys and logs.
func (r RunInfo) Label() string {
	return r.StartedAt.UTC().Format("20060102_150405")
}

// RunSummary reports what an incremental update did. Operators rely on the
// unresolved and NaN counts to spot data-quality regressions such as an empty
// market registry.
type RunSummary struct {
	RunID           string
	RawRows         int
	LedgerRowsPrior int
	WatermarkFound  bool
	Resumed         bool
	RowsProcessed   int
	RowsWritten     int
	Unresolved      int
	NaNPrice        int
	BothQuote       int
	Markets         int
	Duration        time.Duration
}

// Degraded reports whether the run fell back to a data-consistency mode that
// an operator should look at.
func (s RunSummary) Degraded() bool {
	return (s.Resumed && !s.WatermarkFound) || s.Markets == 0 || s.Unresolved > 0
}

// String renders the summary as a short multi-line message.
func (s RunSummary) String() string {
	watermark := "none (fresh ledger)"
	if s.Resumed {
		watermark = "found"
		if !s.WatermarkFound {
			watermark = "NOT FOUND (full reprocess)"
		}
	}
	return fmt.Sprintf(
		"run %s\nraw rows: %d\nledger rows before: %d\nwatermark: %s\nprocessed: %d\nwritten: %d\nunresolved market: %d\nundefined price: %d\nmarkets loaded: %d\nduration: %s",
		s.RunID, s.RawRows, s.LedgerRowsPrior, watermark, s.RowsProcessed,
		s.RowsWritten, s.Unresolved, s.NaNPrice, s.Markets, s.Duration.Round(time.Millisecond),
	)
}
