package cache

import (
	"context"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "cache")

// Tiered composes a local in-process TTLCache with an optional
// distributed ValkeyTTLCache, mirroring the teacher's dual
// memory/valkey repository pattern (infrastructure/valkey paired with
// an in-memory fallback). A nil distributed tier makes Tiered behave
// exactly like TTLCache alone; callers that never enable Valkey pay no
// network cost.
type Tiered[V any] struct {
	local       *TTLCache[V]
	distributed *ValkeyTTLCache
}

// NewTiered builds a Tiered cache. distributed may be nil.
func NewTiered[V any](local *TTLCache[V], distributed *ValkeyTTLCache) *Tiered[V] {
	return &Tiered[V]{local: local, distributed: distributed}
}

// Get checks the local tier first, then the distributed tier on a
// local miss, populating the local tier from a distributed hit so
// repeat lookups on this process stay in-memory.
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := t.local.Get(key); ok {
		return v, true
	}
	if t.distributed == nil {
		var zero V
		return zero, false
	}
	var v V
	ok, err := t.distributed.GetJSON(ctx, key, &v)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("distributed cache read failed, falling back to local miss")
		var zero V
		return zero, false
	}
	if !ok {
		var zero V
		return zero, false
	}
	t.local.Set(key, v)
	return v, true
}

// Set writes through both tiers. A distributed write failure is
// logged and otherwise ignored: the local tier already has the value,
// so this process stays correct even if the distributed tier is down.
func (t *Tiered[V]) Set(ctx context.Context, key string, value V) {
	t.local.Set(key, value)
	if t.distributed == nil {
		return
	}
	if err := t.distributed.SetJSON(ctx, key, value); err != nil {
		log.WithError(err).WithField("key", key).Warn("distributed cache write failed")
	}
}

// Delete removes key from the local tier, and from the distributed
// tier when configured.
func (t *Tiered[V]) Delete(ctx context.Context, key string) {
	t.local.Delete(key)
	if t.distributed == nil {
		return
	}
	if err := t.distributed.Delete(ctx, key); err != nil {
		log.WithError(err).WithField("key", key).Warn("distributed cache delete failed")
	}
}
