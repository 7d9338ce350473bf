package parquetstore

import (
	"github.com/alanyoungcy/polyledger/internal/domain"
)

// FillTable is the append-only raw order-fill table.
type FillTable struct {
	path string
}

// NewFillTable returns a FillTable stored at path.
func NewFillTable(path string) *FillTable {
	return &FillTable{path: path}
}

// Path returns the file location.
func (t *FillTable) Path() string { return t.path }

// Exists reports whether the table file is present.
func (t *FillTable) Exists() (bool, error) { return exists(t.path) }

// Read returns every fill in physical row order. A missing file yields an
// error wrapping domain.ErrNotFound.
func (t *FillTable) Read() ([]domain.RawFill, error) {
	recs, err := readAll[fillRecord](t.path, fillColumns)
	if err != nil {
		return nil, err
	}
	fills := make([]domain.RawFill, len(recs))
	for i := range recs {
		fills[i] = recs[i].toDomain()
	}
	return fills, nil
}

// Append adds fills after the existing rows and rewrites the table. Callers
// must hold the table lock.
func (t *FillTable) Append(fills []domain.RawFill) (int, error) {
	if len(fills) == 0 {
		return 0, nil
	}
	var recs []fillRecord
	ok, err := t.Exists()
	if err != nil {
		return 0, err
	}
	if ok {
		recs, err = readAll[fillRecord](t.path, fillColumns)
		if err != nil {
			return 0, err
		}
	}
	for _, f := range fills {
		recs = append(recs, fillToRecord(f))
	}
	if err := writeAll(t.path, recs); err != nil {
		return 0, err
	}
	return len(fills), nil
}

// Write replaces the table with fills.
func (t *FillTable) Write(fills []domain.RawFill) error {
	recs := make([]fillRecord, len(fills))
	for i, f := range fills {
		recs[i] = fillToRecord(f)
	}
	return writeAll(t.path, recs)
}
