package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// time-ranged reads and the matching delete, not the full store surface.

// PositionArchiveStore provides archival access to closed positions.
type PositionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AdmissionArchiveStore provides archival access to admission decisions.
type AdmissionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AdmissionDecision, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying the primary stores for
// records past retention, serializing them to JSONL, uploading the result to
// S3, and deleting the archived rows only after a successful upload.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	positions  PositionArchiveStore
	admissions AdmissionArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, positions PositionArchiveStore, admissions AdmissionArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:     writer,
		positions:  positions,
		admissions: admissions,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchivePositions uploads all positions closed before the cutoff to
// archive/positions/YYYY-MM.jsonl and removes them from the primary store.
// Returns the number of records archived.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.positions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	if _, err := a.positions.DeleteBefore(ctx, before); err != nil {
		return int64(len(records)), fmt.Errorf("s3blob: archive positions prune: %w", err)
	}
	return int64(len(records)), nil
}

// ArchiveAdmissions uploads all admission decisions made before the cutoff to
// archive/admissions/YYYY-MM.jsonl and removes them from the primary store.
// Returns the number of records archived.
func (a *ArchiveImpl) ArchiveAdmissions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.admissions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive admissions query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive admissions marshal: %w", err)
	}

	path := archivePath("admissions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive admissions upload: %w", err)
	}

	if _, err := a.admissions.DeleteBefore(ctx, before); err != nil {
		return int64(len(records)), fmt.Errorf("s3blob: archive admissions prune: %w", err)
	}
	return int64(len(records)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2025-01.jsonl
//	archive/admissions/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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
