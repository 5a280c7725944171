package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheSetGetDelete(t *testing.T) {
	c := NewTTLCache[string](time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", "v")
	v, ok := c.Get("k")
	require := assert.New(t)
	require.True(ok)
	require.Equal("v", v)
	require.Equal(1, c.Len())

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[int](10 * time.Millisecond)
	c.Set("k", 42)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry should have expired after its TTL elapsed")
}
