// Package cache provides the process-wide caches spec §5 calls for: the
// user-devices cache, the peer-sessions presence cache, the
// group-metadata cache, the LID mapping cache, and the bounded
// recent-messages LRU. The default tier wraps
// hashicorp/golang-lru/v2's expirable LRU, the same dependency the
// bounded RecentMessages cache already uses for eviction; ValkeyTTLCache
// below offers a distributed tier with the same interface for larger
// deployments.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLCache is a generic, goroutine-safe map with per-entry expiry. It is
// the default backend for every cache named in spec §3/§5. Size 0 turns
// expirable.LRU into a pure TTL cache with no entry-count ceiling, since
// none of spec §5's caches are bounded by count, only by age. An entry
// expires ttl after its last Set; Get does not extend it.
type TTLCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewTTLCache creates an empty cache with a fixed per-entry TTL.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{lru: expirable.NewLRU[string, V](0, nil, ttl)}
}

// Get returns the cached value and whether it was present and unexpired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores a value, resetting its TTL from now.
func (c *TTLCache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Delete removes a key, if present.
func (c *TTLCache[V]) Delete(key string) {
	c.lru.Remove(key)
}

// Len reports the number of resident entries; an expired entry still
// counts until the LRU's background purge removes it.
func (c *TTLCache[V]) Len() int {
	return c.lru.Len()
}
