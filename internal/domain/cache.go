package domain

import (
	"context"
	"time"
)

// DealCache provides fast effective-status lookups without a chain read.
type DealCache interface {
	SetStatus(ctx context.Context, dealID string, status DealStatus) error
	GetStatus(ctx context.Context, dealID string) (DealStatus, error)
	Invalidate(ctx context.Context, dealID string) error
}

// RateLimiter provides distributed rate limiting. Allow counts the request
// when it is admitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
