package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCacheFactory creates expirable LRU cache instances.
type LRUCacheFactory struct {
	maxSize int
	ttl     time.Duration
}

// NewLRUCacheFactory creates a new LRU cache factory. The ttl applies
// cache-wide; entries expire that long after being set. A ttl of zero or
// less disables time-based expiry.
func NewLRUCacheFactory(maxSize int, ttl time.Duration) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize, ttl: ttl}
}

// Create creates a new LRU cache instance.
func (f *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(f.maxSize, f.ttl), nil
}

// LRUCache is a local LRU cache backed by golang-lru's expirable variant,
// so entries age out even without an invalidation.
type LRUCache struct {
	cache     *expirable.LRU[string, any]
	hits      int64
	misses    int64
	evictions int64
}

// NewLRUCache creates a new LRU-based local cache with the given
// cache-wide entry TTL.
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	c := &LRUCache{}
	c.cache = expirable.NewLRU[string, any](maxSize, func(string, any) {
		atomic.AddInt64(&c.evictions, 1)
	}, ttl)
	return c
}

// Get retrieves a value from the local cache.
func (c *LRUCache) Get(key string) (any, bool) {
	value, found := c.cache.Get(key)
	if found {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return value, found
}

// Set stores a value in the local cache. Cost is ignored; the per-entry
// ttl is superseded by the cache-wide TTL fixed at construction.
func (c *LRUCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	c.cache.Add(key, value)
	return true
}

// Delete removes a value from the local cache.
func (c *LRUCache) Delete(key string) {
	c.cache.Remove(key)
}

// Clear removes all values from the local cache.
func (c *LRUCache) Clear() {
	c.cache.Purge()
}

// Close closes the local cache.
func (c *LRUCache) Close() {
	c.cache.Purge()
}

// Metrics returns cache metrics.
func (c *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      int64(c.cache.Len()),
	}
}
