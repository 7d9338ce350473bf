// Package parquetstore persists the pipeline tables as zstd-compressed Parquet
// files on local disk. Tables are small enough to be read whole; every write
// replaces the file atomically so a reader never observes a partial table.
package parquetstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// memFile is a write-only source.ParquetFile backed by an in-memory buffer.
// The encoded bytes are flushed to disk in one atomic step afterwards.
type memFile struct {
	buf *bytes.Buffer
}

func newMemFile() *memFile { return &memFile{buf: &bytes.Buffer{}} }

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buf.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memFile) Write(b []byte) (int, error)               { return m.buf.Write(b) }
func (m *memFile) Close() error                              { return nil }

// exists reports whether a regular file is present at path.
func exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("parquetstore: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("parquetstore: %s is a directory", path)
	}
	return true, nil
}

// readAll decodes every row of the Parquet file at path into T. The file must
// carry all required columns; anything else that prevents a full read is
// reported as domain.ErrTableCorrupt.
func readAll[T any](path string, required []string) (rows []T, err error) {
	ok, err := exists(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("parquetstore: read %s: %w", path, domain.ErrNotFound)
	}

	// The decoder panics on some malformed pages.
	defer func() {
		if r := recover(); r != nil {
			rows = nil
			err = fmt.Errorf("parquetstore: read %s: %w: %v", path, domain.ErrTableCorrupt, r)
		}
	}()

	if err := checkFileColumns(path, required); err != nil {
		return nil, err
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("parquetstore: open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("parquetstore: read %s: %w: %v", path, domain.ErrTableCorrupt, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows = make([]T, n)
	if n == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("parquetstore: read %s: %w: %v", path, domain.ErrTableCorrupt, err)
	}
	return rows, nil
}

// checkFileColumns opens the file with its own schema, before any struct
// mapping, and verifies every required column is present.
func checkFileColumns(path string, required []string) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("parquetstore: open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 1)
	if err != nil {
		return fmt.Errorf("parquetstore: read %s: %w: %v", path, domain.ErrTableCorrupt, err)
	}
	defer pr.ReadStop()

	names := make([]string, 0, len(pr.SchemaHandler.Infos))
	for _, info := range pr.SchemaHandler.Infos {
		if info != nil {
			names = append(names, info.ExName)
		}
	}
	if err := checkColumns(names, required); err != nil {
		return fmt.Errorf("parquetstore: read %s: %w: %v", path, domain.ErrTableCorrupt, err)
	}
	return nil
}

// checkColumns verifies that every required column name appears in names.
// The comparison ignores case.
func checkColumns(names []string, required []string) error {
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[strings.ToLower(n)] = true
	}
	var missing []string
	for _, col := range required {
		if !have[strings.ToLower(col)] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing columns %s", strings.Join(missing, ", "))
	}
	return nil
}

// encode serialises rows into an in-memory zstd-compressed Parquet file.
func encode[T any](rows []T) ([]byte, error) {
	mf := newMemFile()
	pw, err := writer.NewParquetWriter(mf, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("parquetstore: new writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_ZSTD

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return nil, fmt.Errorf("parquetstore: write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("parquetstore: finish file: %w", err)
	}
	return mf.buf.Bytes(), nil
}

// writeAll encodes rows and atomically replaces the file at path.
func writeAll[T any](path string, rows []T) error {
	data, err := encode(rows)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// renameFile is swapped in tests to interrupt a write before it lands.
var renameFile = os.Rename

// writeFileAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path. If anything fails the previous file is untouched.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("parquetstore: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("parquetstore: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("parquetstore: write temp for %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("parquetstore: sync temp for %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("parquetstore: close temp for %s: %w", path, err)
	}
	if err = renameFile(tmpName, path); err != nil {
		return fmt.Errorf("parquetstore: replace %s: %w", path, err)
	}

	// Persist the rename itself.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
