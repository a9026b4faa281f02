package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

// DefaultCacheTTL is used when NewCache gets a non-positive TTL.
const DefaultCacheTTL = time.Minute

type cacheEntry struct {
	status    filter.BudgetStatus
	expiresAt time.Time
}

// Cache is a read-through, per-venture budget status cache with a fixed TTL.
// It is local to the process that owns it.
type Cache struct {
	source  Source
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
	// gens counts invalidations per venture. A read-through only stores its
	// result if no invalidation happened while the source was read.
	gens map[string]uint64
	mu   sync.Mutex
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock overrides the cache clock.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache in front of source.
func NewCache(source Source, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the cached status of a venture, reading through to the
// source when the entry is missing or expired. Source errors are not cached.
func (c *Cache) Status(ctx context.Context, ventureID string) (filter.BudgetStatus, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[ventureID]
	gen := c.gens[ventureID]
	c.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		observability.RecordBudgetCacheLookup("hit")
		return entry.status, nil
	}

	if c.source == nil {
		observability.RecordBudgetCacheLookup("error")
		return filter.BudgetStatus{}, fmt.Errorf("budget source not configured")
	}
	status, err := c.source.BudgetStatus(ctx, ventureID)
	if err != nil {
		observability.RecordBudgetCacheLookup("error")
		return filter.BudgetStatus{}, fmt.Errorf("budget status for %s: %w", ventureID, err)
	}
	observability.RecordBudgetCacheLookup("miss")

	c.mu.Lock()
	if c.gens[ventureID] == gen {
		c.entries[ventureID] = cacheEntry{status: status, expiresAt: now.Add(c.ttl)}
	}
	c.mu.Unlock()
	return status, nil
}

// Invalidate drops the entry of a venture.
func (c *Cache) Invalidate(ventureID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ventureID)
	c.gens[ventureID]++
}

// Sweep removes expired entries and returns how many it removed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Ensure Cache implements Source and Invalidator.
var (
	_ Source      = (*Cache)(nil)
	_ Invalidator = (*Cache)(nil)
)

// BudgetStatus implements Source so caches can be layered behind the same
// interface the orchestrator consumes.
func (c *Cache) BudgetStatus(ctx context.Context, ventureID string) (filter.BudgetStatus, error) {
	return c.Status(ctx, ventureID)
}
