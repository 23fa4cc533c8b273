package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ArchiveImpl implements domain.Archiver by serializing escrow records to
// JSONL and uploading them to S3. Uploads are write-once: a dispute's
// evidence bundle and a deal's event history are each keyed by their ids, so
// re-archiving simply overwrites with identical content.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader is optional; without it
// EventsArchived always reports false.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, audit: audit}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveEvidence uploads the dispute record, reason and evidence links as a
// single JSON document at disputes/{deal_id}/evidence.json.
func (a *ArchiveImpl) ArchiveEvidence(ctx context.Context, d domain.Dispute) (string, error) {
	doc, err := json.MarshalIndent(map[string]any{
		"dispute_id":     d.ID,
		"deal_id":        d.DealID,
		"initiator":      d.Initiator,
		"reason":         d.Reason,
		"evidence_links": d.EvidenceLinks,
		"created_at":     d.CreatedAt.Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive evidence marshal: %w", err)
	}

	path := fmt.Sprintf("disputes/%s/evidence.json", d.DealID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(doc), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive evidence upload: %w", err)
	}

	a.logArchive(ctx, d.DealID, "archive.evidence", path, int64(len(d.EvidenceLinks)))
	return path, nil
}

// ArchiveEvents uploads a deal's decoded contract event history as JSONL at
// deals/{deal_id}/events.jsonl.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, dealID string, events []domain.ChainEventRecord) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := fmt.Sprintf("deals/%s/events.jsonl", dealID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	a.logArchive(ctx, dealID, "archive.events", path, int64(len(events)))
	return path, nil
}

// EventsArchived checks for an existing events.jsonl object for the deal.
func (a *ArchiveImpl) EventsArchived(ctx context.Context, dealID string) (bool, error) {
	if a.reader == nil {
		return false, nil
	}
	return a.reader.Exists(ctx, fmt.Sprintf("deals/%s/events.jsonl", dealID))
}

func (a *ArchiveImpl) logArchive(ctx context.Context, dealID, event, path string, count int64) {
	if a.audit == nil {
		return
	}
	_ = a.audit.Log(ctx, dealID, event, map[string]any{
		"path":  path,
		"count": count,
	})
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("s3blob: marshal record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
