package strategy

import (
	"sync"
	"time"
)

// ApiValueCache is the shared external-value cache consulted by the
// api_fetch node (spec.md §4.6, §5). Access is a synchronous RW lock with
// no awaits held; entries carry updated_at and are invalidated by
// caller-supplied max_age. The backtester must never be given a cache —
// evaluate() passes nil in that path so api_fetch deterministically
// returns 0 (spec.md §9).
type ApiValueCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     float64
	updatedAt time.Time
}

// NewApiValueCache returns an empty cache.
func NewApiValueCache() *ApiValueCache {
	return &ApiValueCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached value for key if present and younger than
// maxAge, else 0.
func (c *ApiValueCache) Get(key string, maxAge time.Duration) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.updatedAt) > maxAge {
		return 0
	}
	return e.value
}

// Set stores value for key, stamped with the current time.
func (c *ApiValueCache) Set(key string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, updatedAt: time.Now()}
}
