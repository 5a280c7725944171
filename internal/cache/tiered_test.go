package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTieredLocalOnlyRoundTrip(t *testing.T) {
	ctx := context.Background()
	tc := NewTiered(NewTTLCache[string](time.Minute), nil)

	_, ok := tc.Get(ctx, "k")
	assert.False(t, ok, "nil distributed tier should behave as a plain local miss")

	tc.Set(ctx, "k", "v")
	v, ok := tc.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	tc.Delete(ctx, "k")
	_, ok = tc.Get(ctx, "k")
	assert.False(t, ok)
}
