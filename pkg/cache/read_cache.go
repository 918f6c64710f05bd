// Package cache keeps short-lived copies of catalog read results.
//
// Storefront pages list the same products and categories over and over
// while writes are rare, so list and lookup results are cached for a short
// TTL and the whole cache is cleared on every catalog write.
//
// Features:
//   - LRU eviction for bounded memory
//   - TTL expiration
//   - Hit/miss statistics, also exported as
//     storefront_catalog_cache_lookups_total
//
// Usage:
//
//	c := cache.New(1000, 30*time.Second)
//
//	key := cache.Key("products", category, query, page)
//	if v, ok := c.Get(key); ok {
//		return v.(*ProductPage), nil
//	}
//	gen := c.Generation()
//	page := load()
//	c.Put(key, page, gen)
//
// Every Clear starts a new generation. Put drops a value loaded in an
// earlier generation, so a read that overlaps a write cannot cache what it
// saw before the write.
//
// Cached values are shared between readers and must not be modified.
package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/orneryd/storefront/pkg/metrics"
)

// Defaults used when New is given non-positive values.
const (
	DefaultSize = 1000
	DefaultTTL  = 30 * time.Second
)

// ReadCache is a thread-safe LRU cache with a fixed TTL per entry.
type ReadCache struct {
	entries *expirable.LRU[uint64, any]
	maxSize int
	enabled atomic.Bool

	// mu orders Put against Clear; gen changes only while it is held.
	mu  sync.Mutex
	gen atomic.Uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates an enabled cache holding at most maxSize entries for ttl each.
func New(maxSize int, ttl time.Duration) *ReadCache {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &ReadCache{
		entries: expirable.NewLRU[uint64, any](maxSize, nil, ttl),
		maxSize: maxSize,
	}
	c.enabled.Store(true)
	return c
}

// Key hashes parts into a cache key. Parts are separated so ("ab", "c")
// and ("a", "bc") differ.
func Key(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Get returns the cached value for key. A nil cache always misses.
func (c *ReadCache) Get(key uint64) (any, bool) {
	if c == nil || !c.enabled.Load() {
		return nil, false
	}
	v, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
		metrics.CatalogCacheLookups.WithLabelValues("hit").Inc()
		return v, true
	}
	c.misses.Add(1)
	metrics.CatalogCacheLookups.WithLabelValues("miss").Inc()
	return nil, false
}

// Generation returns the current generation. Capture it before loading a
// value and pass it to Put.
func (c *ReadCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	return c.gen.Load()
}

// Put stores value under key, evicting the least recently used entry when
// full. It reports false and stores nothing when the cache was cleared
// since gen was captured.
func (c *ReadCache) Put(key uint64, value any, gen uint64) bool {
	if c == nil || !c.enabled.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen.Load() != gen {
		return false
	}
	c.entries.Add(key, value)
	return true
}

// Clear removes every entry and starts a new generation.
func (c *ReadCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.gen.Add(1)
	c.entries.Purge()
	c.mu.Unlock()
}

// Len returns the number of cached entries, expired ones included until
// they are reaped.
func (c *ReadCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// SetEnabled turns the cache on or off. Disabling also clears it.
func (c *ReadCache) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
	if !enabled {
		c.Clear()
	}
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"` // percent
}

// Stats returns a snapshot of the counters.
func (c *ReadCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    c.entries.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
	}
}
