// Package metricscache caches computed statistics with per-key TTLs and
// mutation-driven invalidation.
package metricscache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/bookmarks"
)

// Cached statistic keys.
const (
	KeySummary       = "summary"
	KeyQuickStats    = "quick_stats"
	KeyCategoryStats = "category_stats"
	KeyDomainStats   = "domain_stats"
	KeyExpertise     = "expertise"
)

// enrichKeys are the keys an enrichment pass can change. Enrichment never
// moves a record between domains, so domain stats survive it.
var enrichKeys = []string{KeySummary, KeyQuickStats, KeyCategoryStats, KeyExpertise}

// mutationKeys are invalidated by record-level add, delete, and update.
var mutationKeys = []string{KeySummary, KeyQuickStats, KeyCategoryStats, KeyDomainStats, KeyExpertise}

type entry struct {
	value   any
	expires time.Time
}

// Cache is a TTL'd computed-value cache. Recompute is lazy: an expired or
// invalidated key is rebuilt on the next read. Concurrent misses may compute
// the same value twice; last write wins, which is harmless for pure
// aggregations.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   bookmarks.Clock
	logger  *zap.Logger
}

// New constructs a Cache.
func New(clock bookmarks.Clock, logger *zap.Logger) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
		logger:  logger,
	}
}

// GetOrCompute returns the cached value for key, computing and storing it
// when absent or expired. The compute function runs outside the cache lock.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (any, error)) (any, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: now.Add(ttl)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops the cached keys affected by the given mutation class.
func (c *Cache) Invalidate(change bookmarks.ChangeType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch change {
	case bookmarks.ChangeEnrich:
		c.dropLocked(enrichKeys)
	case bookmarks.ChangeAdd, bookmarks.ChangeDelete, bookmarks.ChangeUpdate:
		c.dropLocked(mutationKeys)
	case bookmarks.ChangeAll:
		c.entries = make(map[string]entry)
	default:
		c.logger.Warn("unknown change type, clearing cache", zap.String("change", string(change)))
		c.entries = make(map[string]entry)
	}
}

// Len reports the number of live entries, expired included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) dropLocked(keys []string) {
	for _, k := range keys {
		delete(c.entries, k)
	}
}
