// Package cache provides a small get-or-compute cache with fixed TTL expiry.
package cache

import (
	"sync"
	"time"
)

// entry is a cached value and the instant it stops being served.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a get-or-compute cache. Entries are served strictly before their
// expiry and recomputed lazily on the first access at or after it. Nothing is
// evicted proactively.
type TTL[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[K]entry[V]
}

// NewTTL creates a cache whose entries live for ttl. A nil now uses time.Now.
func NewTTL[K comparable, V any](ttl time.Duration, now func() time.Time) *TTL[K, V] {
	if now == nil {
		now = time.Now
	}
	return &TTL[K, V]{
		ttl:     ttl,
		now:     now,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the live entry for key, if any.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, overwriting any existing entry.
func (c *TTL[K, V]) Set(key K, value V) {
	expiresAt := c.now().Add(c.ttl)

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: expiresAt}
	c.mu.Unlock()
}

// GetOrCompute returns the live entry for key or calls compute and stores its
// result. Errors are returned to the caller and never cached. Concurrent
// misses for the same key may both compute; the last store wins.
func (c *TTL[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.Set(key, v)
	return v, nil
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
