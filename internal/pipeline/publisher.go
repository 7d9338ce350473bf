package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// multipartThreshold is the file size above which snapshots use multipart
// upload.
const multipartThreshold int64 = 64 << 20

// SnapshotPublisher uploads the whole ledger file to object storage after
// each run that wrote rows. The object key carries the run date, so the last
// run of a day wins.
type SnapshotPublisher struct {
	writer     domain.BlobWriter
	ledgerPath string
	keyPrefix  string
	partSize   int64
}

// NewSnapshotPublisher creates a publisher for the ledger at ledgerPath.
// Objects are written under keyPrefix, e.g. "ledger/trades".
func NewSnapshotPublisher(writer domain.BlobWriter, ledgerPath, keyPrefix string, partSize int64) *SnapshotPublisher {
	if keyPrefix == "" {
		keyPrefix = "ledger/trades"
	}
	return &SnapshotPublisher{
		writer:     writer,
		ledgerPath: ledgerPath,
		keyPrefix:  keyPrefix,
		partSize:   partSize,
	}
}

// Name identifies the publisher in run logs.
func (p *SnapshotPublisher) Name() string { return "s3_snapshot" }

// SnapshotKey returns the object key for a run.
func (p *SnapshotPublisher) SnapshotKey(run domain.RunInfo) string {
	return path.Join(p.keyPrefix, run.StartedAt.UTC().Format("2006-01-02")+".parquet")
}

// Export uploads the current ledger file.
func (p *SnapshotPublisher) Export(ctx context.Context, run domain.RunInfo, _ int, _ []domain.Trade) error {
	f, err := os.Open(p.ledgerPath)
	if err != nil {
		return fmt.Errorf("publisher: open ledger: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("publisher: stat ledger: %w", err)
	}

	key := p.SnapshotKey(run)
	if info.Size() > multipartThreshold {
		err = p.writer.PutMultipart(ctx, key, f, p.partSize)
	} else {
		err = p.writer.Put(ctx, key, f, "application/vnd.apache.parquet")
	}
	if err != nil {
		return fmt.Errorf("publisher: upload %s: %w", key, err)
	}
	return nil
}
