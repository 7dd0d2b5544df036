// Package cache provides the TTL cache every freshness-sensitive component
// sits on. Entries are immutable once stored and replaced wholesale on Set;
// an expired entry behaves as absent and is evicted lazily on read, with
// Cleanup available for amortized background sweeps.
package cache

import (
	"sync"
	"time"

	"github.com/jmcasey/stockdash/internal/clock"
	"github.com/jmcasey/stockdash/internal/observ"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe key/value store with per-entry expiry.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	clk     clock.Clock
	name    string
}

// New creates a named cache. The name labels cache metrics so hit rates can
// be tracked per concern.
func New[V any](name string, clk clock.Clock) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		clk:     clk,
		name:    name,
	}
}

// Get returns the value for key if present and unexpired. An expired entry
// is evicted and reported as absent; it is never returned.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		observ.IncCounter("cache_miss_total", map[string]string{"cache": c.name})
		return zero, false
	}

	if c.clk.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock: a concurrent Set may have replaced
		// the entry with a fresh one.
		if cur, ok := c.entries[key]; ok && c.clk.Now().After(cur.expiresAt) {
			delete(c.entries, key)
			observ.IncCounter("cache_eviction_total", map[string]string{"cache": c.name})
		}
		c.mu.Unlock()
		observ.IncCounter("cache_miss_total", map[string]string{"cache": c.name, "reason": "expired"})
		return zero, false
	}

	observ.IncCounter("cache_hit_total", map[string]string{"cache": c.name})
	return e.value, true
}

// Set stores value under key for ttl. Last write wins.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clk.Now().Add(ttl)}
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len reports the number of stored entries, expired ones included until
// they are swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Cleanup sweeps expired entries and returns how many were evicted.
// Correctness does not depend on it; Get rechecks expiry regardless.
func (c *Cache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	evicted := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		observ.IncCounterBy("cache_eviction_total", map[string]string{"cache": c.name}, float64(evicted))
	}
	return evicted
}
