package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/redis/go-redis/v9"
)

const dealStatusTTL = 2 * time.Minute

// DealCache implements domain.DealCache. It holds the last reconciled
// effective status per deal so read paths can skip a chain round-trip; the
// short TTL bounds how stale a cached status can get.
//
// Key schema:
//
//	deal:status:{id} - string value of the effective status
type DealCache struct {
	rdb *redis.Client
}

// NewDealCache creates a DealCache backed by the given Client.
func NewDealCache(c *Client) *DealCache {
	return &DealCache{rdb: c.Underlying()}
}

func dealStatusKey(id string) string { return "deal:status:" + id }

// SetStatus stores the effective status for a deal with a short TTL.
func (dc *DealCache) SetStatus(ctx context.Context, dealID string, status domain.DealStatus) error {
	if err := dc.rdb.Set(ctx, dealStatusKey(dealID), string(status), dealStatusTTL).Err(); err != nil {
		return fmt.Errorf("redis: set deal %s status: %w", dealID, err)
	}
	return nil
}

// GetStatus retrieves the cached effective status for a deal.
// It returns domain.ErrNotFound when no status is cached.
func (dc *DealCache) GetStatus(ctx context.Context, dealID string) (domain.DealStatus, error) {
	val, err := dc.rdb.Get(ctx, dealStatusKey(dealID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: get deal %s status: %w", dealID, err)
	}
	return domain.DealStatus(val), nil
}

// Invalidate drops the cached status, forcing the next read to reconcile.
func (dc *DealCache) Invalidate(ctx context.Context, dealID string) error {
	if err := dc.rdb.Del(ctx, dealStatusKey(dealID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate deal %s status: %w", dealID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DealCache = (*DealCache)(nil)
