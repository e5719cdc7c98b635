package utils

import (
	"sync"
	"time"
)

// ValueCache remembers the last value recorded per key for a limited time.
// The journal uses it to skip writing a value that has not changed.
type ValueCache[V comparable] struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]entry[V]
}

type entry[V comparable] struct {
	v  V
	at time.Time
}

// NewValueCache creates a cache with the given TTL, one hour when ttl <= 0.
func NewValueCache[V comparable](ttl time.Duration) *ValueCache[V] {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ValueCache[V]{ttl: ttl, now: time.Now, data: make(map[string]entry[V], 256)}
}

// Get returns the cached value if it has not expired.
func (c *ValueCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok || c.now().Sub(e.at) > c.ttl {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return e.v, true
}

func (c *ValueCache[V]) Set(key string, v V) {
	c.mu.Lock()
	c.data[key] = entry[V]{v: v, at: c.now()}
	c.mu.Unlock()
}

// Changed records v under key and reports whether it differs from the
// unexpired value cached before.
func (c *ValueCache[V]) Changed(key string, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e, ok := c.data[key]
	if ok && now.Sub(e.at) <= c.ttl && e.v == v {
		return false
	}
	c.data[key] = entry[V]{v: v, at: now}
	return true
}

// Forget drops every key with the given prefix.
func (c *ValueCache[V]) Forget(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.data, k)
		}
	}
}
