/*
cache.go - Bounded aggregate cache

PURPOSE:
  O(1) lookup of precomputed sums (category totals per time filter,
  account aggregates) with least-recently-used eviction. Never a source
  of truth: every entry is rebuildable from the ledger, and dropping the
  whole cache loses nothing but time.

INVALIDATION DISCIPLINE:
  - Narrow operations invalidate only the key space they could have
    touched. InvalidateAll is reserved for genuine full rebuilds (bulk
    import, full recalculation); a global flush fired from a narrow
    operation wipes unrelated, still-valid entries.
  - Invalidation happens before the recomputation it protects, never
    after. Doing it after races the next read into publishing a stale
    intermediate state.

NEGATIVE RESULTS:
  An empty sum computed while a rebuild is in flight is suspect - it may
  reflect a half-cleared ledger. Such results are not cached unless the
  caller explicitly vouches for them (SetVerifiedEmpty).

SEE ALSO:
  - ledger.go: The only writer of this cache
*/
package ledger

import (
	"container/list"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CACHE KEY - (account, category, time bucket)
// =============================================================================

// CacheKey addresses one precomputed aggregate. Empty fields mean
// "all" (e.g. a category total across every account leaves Account empty).
type CacheKey struct {
	Account  AccountID
	Category CategoryID
	Bucket   string // rendered TimeFilter, see TimeFilter.String
}

// =============================================================================
// AGGREGATE CACHE - LRU with a rebuild guard
// =============================================================================

type cacheEntry struct {
	key   CacheKey
	value decimal.Decimal
}

// AggregateCache is a mutex-guarded LRU. Reads are served concurrently to
// many collaborators; writes come only from the ledger's
// invalidation/populate path.
type AggregateCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[CacheKey]*list.Element

	// Count of rebuilds currently in flight. While non-zero, empty values
	// are refused by Set.
	rebuilds int
}

const defaultCacheCapacity = 512

func NewAggregateCache(capacity int) *AggregateCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &AggregateCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[CacheKey]*list.Element),
	}
}

// Get returns the cached value and whether it was present.
func (c *AggregateCache) Get(key CacheKey) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return decimal.Zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

// Set stores a value, evicting the least recently used entry at capacity.
// Zero values are refused while a rebuild is in flight; use
// SetVerifiedEmpty for an empty result that was computed against settled
// state.
func (c *AggregateCache) Set(key CacheKey, value decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value.IsZero() && c.rebuilds > 0 {
		return
	}
	c.setLocked(key, value)
}

// SetVerifiedEmpty stores a zero value the caller has verified against
// settled ledger state.
func (c *AggregateCache) SetVerifiedEmpty(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, decimal.Zero)
}

func (c *AggregateCache) setLocked(key CacheKey, value decimal.Decimal) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Invalidate drops a single entry.
func (c *AggregateCache) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// InvalidateMatching drops every entry the predicate selects. This is the
// narrow-invalidation path: an event invalidates only the key space it
// could have touched.
func (c *AggregateCache) InvalidateMatching(match func(CacheKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.entries {
		if match(key) {
			c.order.Remove(el)
			delete(c.entries, key)
		}
	}
}

// InvalidateAll empties the cache. Reserved for genuine full rebuilds.
func (c *AggregateCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[CacheKey]*list.Element)
}

// Len reports the current entry count.
func (c *AggregateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// BeginRebuild marks a full rebuild as in flight. Until the matching
// EndRebuild, empty results are not cacheable.
func (c *AggregateCache) BeginRebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuilds++
}

func (c *AggregateCache) EndRebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rebuilds > 0 {
		c.rebuilds--
	}
}

// RebuildInFlight reports whether any rebuild is running.
func (c *AggregateCache) RebuildInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuilds > 0
}
