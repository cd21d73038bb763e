package synthesizer

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/observability/metrics"
)

// candidate is a legal next attribute for a partial row
type candidate struct {
	value datablock.ValueID
	// weight is the smallest sensitive count among the sub-combinations the
	// candidate would complete
	weight int
	// conditional is how many records hold the partial row plus the
	// candidate (records modes only)
	conditional int
}

// cacheEntry holds what is known about one partial row
type cacheEntry struct {
	candidates []candidate
	// records holding every attribute of the partial row (records modes only)
	records aggregator.RecordsSet
	// stopWeight is how many of those records have no legal extension
	stopWeight int
}

// CacheStats counts cache activity during one synthesis run
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache memoizes partial row lookups, keyed by the canonical signature of the
// attributes already chosen. It is bounded by an LRU policy; entries are
// evicted when an insert exceeds the bound. A zero size disables caching.
// A Cache is owned by a single synthesis run and is not safe for concurrent use.
type Cache struct {
	entries *lru.Cache[aggregator.CombinationKey, *cacheEntry]
	metrics *metrics.PrometheusMetrics
	stats   CacheStats
}

// NewCache creates a cache holding at most maxSize entries
func NewCache(maxSize int, m *metrics.PrometheusMetrics) *Cache {
	c := &Cache{metrics: m}
	if maxSize <= 0 {
		return c
	}

	// the size is positive, so construction cannot fail
	entries, _ := lru.NewWithEvict[aggregator.CombinationKey, *cacheEntry](maxSize, func(aggregator.CombinationKey, *cacheEntry) {
		c.stats.Evictions++
		c.metrics.RecordCacheEvent("eviction")
	})
	c.entries = entries
	return c
}

func (c *Cache) get(key aggregator.CombinationKey) (*cacheEntry, bool) {
	if c.entries == nil {
		c.stats.Misses++
		c.metrics.RecordCacheEvent("miss")
		return nil, false
	}

	entry, ok := c.entries.Get(key)
	if ok {
		c.stats.Hits++
		c.metrics.RecordCacheEvent("hit")
	} else {
		c.stats.Misses++
		c.metrics.RecordCacheEvent("miss")
	}
	return entry, ok
}

func (c *Cache) add(key aggregator.CombinationKey, entry *cacheEntry) {
	if c.entries == nil {
		return
	}
	c.entries.Add(key, entry)
}

// Len returns how many entries are cached
func (c *Cache) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Stats returns the hit, miss and eviction counts so far
func (c *Cache) Stats() CacheStats {
	return c.stats
}
