package mediaconn

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls int32
	delay time.Duration
}

func (f *fakeFetcher) FetchMediaConn(ctx context.Context) (Info, error) {
	atomic.AddInt32(&f.calls, 1)
	time.Sleep(f.delay)
	return Info{Hosts: []string{"media.example"}, TTL: 50 * time.Millisecond}, nil
}

func TestGetRefreshesWhenAbsent(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f)
	info, err := c.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"media.example"}, info.Hosts)
	assert.EqualValues(t, 1, f.calls)
}

func TestGetReusesUnexpiredInfo(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f)
	_, err := c.Get(context.Background(), false)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.calls, "second call within TTL should not refetch")
}

func TestGetForceAlwaysRefreshes(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f)
	_, err := c.Get(context.Background(), false)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.calls)
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	f := &fakeFetcher{delay: 20 * time.Millisecond}
	c := New(f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, f.calls, "concurrent refreshes for an absent value must coalesce into one fetch")
}
