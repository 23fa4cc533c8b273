package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ChainEventRecord is one decoded contract event flattened for archival.
type ChainEventRecord struct {
	ChainDealID uint64         `json:"chain_deal_id"`
	Event       string         `json:"event"`
	Values      map[string]any `json:"values"`
	TxHash      string         `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
}

// Archiver writes dispute evidence bundles and per-deal event history to
// cold storage. The archive methods return the object path they wrote.
type Archiver interface {
	ArchiveEvidence(ctx context.Context, d Dispute) (string, error)
	ArchiveEvents(ctx context.Context, dealID string, events []ChainEventRecord) (string, error)
	// EventsArchived reports whether a deal's event history is already in
	// cold storage, so terminal deals are not re-fetched every run.
	EventsArchived(ctx context.Context, dealID string) (bool, error)
}
