package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Status DealStatus // empty = all
	Since  *time.Time
	Until  *time.Time
}

// DealStore persists deal metadata. UpdateStatus and BindChainID must be
// idempotent: reapplying the same write leaves the row unchanged.
type DealStore interface {
	Create(ctx context.Context, deal Deal) error
	GetByID(ctx context.Context, id string) (Deal, error)
	GetByChainID(ctx context.Context, chainDealID uint64) (Deal, error)
	List(ctx context.Context, opts ListOpts) ([]Deal, error)
	ListBound(ctx context.Context, opts ListOpts) ([]Deal, error)
	UpdateStatus(ctx context.Context, id string, status DealStatus) error
	BindChainID(ctx context.Context, id string, chainDealID uint64) error
	SetMilestoneReleased(ctx context.Context, id string, index int) error
	Count(ctx context.Context) (int64, error)
}

// DisputeStore persists dispute records. At most one dispute per deal.
type DisputeStore interface {
	Create(ctx context.Context, d Dispute) error
	GetByDealID(ctx context.Context, dealID string) (Dispute, error)
	List(ctx context.Context, opts ListOpts) ([]Dispute, error)
}

// AuditEntry is a single audit log row. DealID is empty for entries not
// tied to one deal.
type AuditEntry struct {
	ID        int64
	DealID    string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log, queryable globally or per
// deal.
type AuditStore interface {
	Log(ctx context.Context, dealID, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByDeal(ctx context.Context, dealID string, opts ListOpts) ([]AuditEntry, error)
}
