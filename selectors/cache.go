package selectors

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// CacheStats mirrors the teacher's semantic-cache stats shape
// (caching.CacheStats), trimmed to what an exact-match derivation
// cache needs: no similarity score, since these are pure function
// caches, not approximate lookups.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int64
}

// Cache is a namespaced exact-match memo table, modeled on the
// teacher's caching.Engine but without the embedding/similarity
// machinery — selector derivations are deterministic pure functions,
// so an exact key match is all that is ever needed.
type Cache struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	store  map[string]map[string]any // namespace -> key -> value

	hits      int64
	misses    int64
	evictions int64
}

// NewCache returns an empty Cache.
func NewCache(logger zerolog.Logger) *Cache {
	return &Cache{
		logger: logger.With().Str("component", "selector_cache").Logger(),
		store:  make(map[string]map[string]any),
	}
}

// Get returns the cached value for (namespace, key), tracking a
// hit/miss for Stats().
func (c *Cache) Get(namespace, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.store[namespace]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	v, ok := ns[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return v, true
}

// Set installs a value for (namespace, key).
func (c *Cache) Set(namespace, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.store[namespace]
	if !ok {
		ns = make(map[string]any)
		c.store[namespace] = ns
	}
	ns[key] = value
}

// InvalidateNamespace drops every entry in namespace (used for a full
// rebuild after a schedule-history mutation, per spec §4.2 cache
// policy).
func (c *Cache) InvalidateNamespace(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.store[namespace]; ok {
		atomic.AddInt64(&c.evictions, int64(len(ns)))
		delete(c.store, namespace)
	}
}

// InvalidateKey drops a single (namespace, key) entry (used for a
// per-day status change, per spec §4.2).
func (c *Cache) InvalidateKey(namespace, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.store[namespace]; ok {
		if _, ok := ns[key]; ok {
			delete(ns, key)
			atomic.AddInt64(&c.evictions, 1)
		}
	}
}

// Clear drops every namespace.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for _, ns := range c.store {
		evicted += len(ns)
	}
	atomic.AddInt64(&c.evictions, int64(evicted))
	c.store = make(map[string]map[string]any)
}

// Stats returns a point-in-time snapshot of cache metrics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var entries int64
	for _, ns := range c.store {
		entries += int64(len(ns))
	}
	return CacheStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
		Entries:   entries,
	}
}
