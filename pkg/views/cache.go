package views

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

const countCacheName = "view_count"

// CachedCounter is a read-through cache in front of a CountStore. Entries live for a
// short TTL; increments refresh the cached value with the store's answer.
type CachedCounter struct {
	store   CountStore
	cache   *expirable.LRU[string, int64]
	metrics *observability.Metrics
}

// NewCachedCounter wraps store with an LRU of size entries expiring after ttl.
func NewCachedCounter(store CountStore, size int, ttl time.Duration, metrics *observability.Metrics) *CachedCounter {
	if size <= 0 {
		size = 10000
	}
	return &CachedCounter{
		store:   store,
		cache:   expirable.NewLRU[string, int64](size, nil, ttl),
		metrics: metrics,
	}
}

// GetViewCount implements CountStore.
func (c *CachedCounter) GetViewCount(ctx context.Context, profileUserID string) (int64, error) {
	if n, ok := c.cache.Get(profileUserID); ok {
		c.metrics.ObserveCache(countCacheName, true)
		return n, nil
	}
	c.metrics.ObserveCache(countCacheName, false)

	n, err := c.store.GetViewCount(ctx, profileUserID)
	if err != nil {
		return 0, err
	}
	c.cache.Add(profileUserID, n)
	return n, nil
}

// IncrementViewCount implements CountStore.
func (c *CachedCounter) IncrementViewCount(ctx context.Context, profileUserID string) (int64, error) {
	n, err := c.store.IncrementViewCount(ctx, profileUserID)
	if err != nil {
		c.cache.Remove(profileUserID)
		return 0, err
	}
	c.cache.Add(profileUserID, n)
	return n, nil
}

// Prime stores a count learned elsewhere, such as the result of an atomic record.
func (c *CachedCounter) Prime(profileUserID string, n int64) {
	c.cache.Add(profileUserID, n)
}

// Invalidate drops the cached count for a profile.
func (c *CachedCounter) Invalidate(profileUserID string) {
	c.cache.Remove(profileUserID)
}
