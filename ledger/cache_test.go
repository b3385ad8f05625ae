/*
cache_test.go - Aggregate cache behavior

ORGANIZATION:
  1. LRU mechanics - eviction order, recency on read
  2. Invalidation - single key, predicate, full flush
  3. Rebuild guard - empty results during rebuilds
*/
package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
)

func key(category string) ledger.CacheKey {
	return ledger.CacheKey{Category: ledger.CategoryID(category), Bucket: "[.., ..]"}
}

// =============================================================================
// LRU MECHANICS
// =============================================================================

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	// GIVEN: A cache of capacity 2 holding k1 and k2, with k1 read last
	// WHEN: Inserting k3
	// THEN: k2 (the least recently used) is evicted, k1 survives

	c := ledger.NewAggregateCache(2)
	c.Set(key("k1"), dec("1"))
	c.Set(key("k2"), dec("2"))

	_, ok := c.Get(key("k1")) // k1 becomes most recently used
	require.True(t, ok)

	c.Set(key("k3"), dec("3"))

	_, ok = c.Get(key("k2"))
	assert.False(t, ok, "k2 was least recently used and must be evicted")
	_, ok = c.Get(key("k1"))
	assert.True(t, ok)
	_, ok = c.Get(key("k3"))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_SetUpdatesExistingEntryInPlace(t *testing.T) {
	c := ledger.NewAggregateCache(2)
	c.Set(key("k1"), dec("1"))
	c.Set(key("k1"), dec("42"))

	v, ok := c.Get(key("k1"))
	require.True(t, ok)
	assert.True(t, v.Equal(dec("42")))
	assert.Equal(t, 1, c.Len())
}

// =============================================================================
// INVALIDATION
// =============================================================================

func TestCache_InvalidateMatching_DropsOnlySelectedKeys(t *testing.T) {
	// Narrow invalidation: only the key space an event touched goes.
	c := ledger.NewAggregateCache(8)
	c.Set(ledger.CacheKey{Account: "a", Category: "food"}, dec("1"))
	c.Set(ledger.CacheKey{Account: "a", Category: "rent"}, dec("2"))
	c.Set(ledger.CacheKey{Account: "b", Category: "food"}, dec("3"))

	c.InvalidateMatching(func(k ledger.CacheKey) bool { return k.Account == "a" })

	_, ok := c.Get(ledger.CacheKey{Account: "a", Category: "food"})
	assert.False(t, ok)
	_, ok = c.Get(ledger.CacheKey{Account: "a", Category: "rent"})
	assert.False(t, ok)
	_, ok = c.Get(ledger.CacheKey{Account: "b", Category: "food"})
	assert.True(t, ok, "unrelated account keeps its entry")
}

func TestCache_InvalidateAll_NoStaleReads(t *testing.T) {
	// GIVEN: A populated cache
	// WHEN: InvalidateAll runs
	// THEN: Any immediately following read misses - no previously cached
	//       value is ever served again

	c := ledger.NewAggregateCache(8)
	c.Set(key("k1"), dec("1"))
	c.Set(key("k2"), dec("2"))

	c.InvalidateAll()

	_, ok := c.Get(key("k1"))
	assert.False(t, ok)
	_, ok = c.Get(key("k2"))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

// =============================================================================
// REBUILD GUARD
// =============================================================================

func TestCache_EmptyResultDuringRebuild_NotCached(t *testing.T) {
	// GIVEN: A rebuild in flight
	// WHEN: A zero aggregate is offered via the normal Set path
	// THEN: It is refused - it may reflect a half-cleared ledger

	c := ledger.NewAggregateCache(8)
	c.BeginRebuild()
	defer c.EndRebuild()

	c.Set(key("k1"), dec("0"))

	_, ok := c.Get(key("k1"))
	assert.False(t, ok, "unverified empty result must not be cached mid-rebuild")

	// Non-zero values are still fine
	c.Set(key("k2"), dec("5"))
	_, ok = c.Get(key("k2"))
	assert.True(t, ok)
}

func TestCache_SetVerifiedEmpty_CachesZeroEvenDuringRebuild(t *testing.T) {
	c := ledger.NewAggregateCache(8)
	c.BeginRebuild()
	defer c.EndRebuild()

	c.SetVerifiedEmpty(key("k1"))

	v, ok := c.Get(key("k1"))
	require.True(t, ok)
	assert.True(t, v.IsZero())
}

func TestCache_ZeroCacheableAfterRebuildEnds(t *testing.T) {
	c := ledger.NewAggregateCache(8)
	c.BeginRebuild()
	assert.True(t, c.RebuildInFlight())
	c.EndRebuild()
	assert.False(t, c.RebuildInFlight())

	c.Set(key("k1"), dec("0"))
	_, ok := c.Get(key("k1"))
	assert.True(t, ok)
}
