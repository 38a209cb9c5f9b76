package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// TradeSource lists trades for archival.
type TradeSource interface {
	ListTradesBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error)
}

// DiscrepancySource lists reconciliation findings for archival.
type DiscrepancySource interface {
	ListDiscrepanciesBefore(ctx context.Context, before time.Time, limit int) ([]domain.InventoryDiscrepancy, error)
}

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = minPartSize

// ArchiveImpl implements domain.Archiver. Each run writes every record older
// than the cutoff to one JSONL object keyed by the cutoff date, so a rerun on
// the same day is a no-op. Records are never deleted from the primary store.
type ArchiveImpl struct {
	writer        domain.BlobWriter
	reader        domain.BlobReader
	trades        TradeSource
	discrepancies DiscrepancySource
	audit         domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades TradeSource,
	discrepancies DiscrepancySource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:        writer,
		reader:        reader,
		trades:        trades,
		discrepancies: discrepancies,
		audit:         audit,
	}
}

// ArchiveTrades uploads trades executed before the cutoff to
// archive/trades/YYYY-MM-DD.jsonl and returns how many were written.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "trades", before, func() ([]domain.Trade, error) {
		return a.trades.ListTradesBefore(ctx, before, 0)
	})
}

// ArchiveDiscrepancies uploads findings detected before the cutoff to
// archive/discrepancies/YYYY-MM-DD.jsonl and returns how many were written.
func (a *ArchiveImpl) ArchiveDiscrepancies(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "discrepancies", before, func() ([]domain.InventoryDiscrepancy, error) {
		return a.discrepancies.ListDiscrepanciesBefore(ctx, before, 0)
	})
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, list func() ([]T, error)) (int64, error) {
	path := archivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			return 0, nil
		}
	}

	records, err := list()
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// UTC date of the cutoff.
//
//	archive/trades/2026-01-31.jsonl
//	archive/discrepancies/2026-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
