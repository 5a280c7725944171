// Package mediaconn implements the MediaConn memoized future (spec
// §3/§9): a shared, race-coalescing refresh of upload host credentials
// that every caller observes the same in-flight result for.
package mediaconn

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Info is the MediaConn data model (spec §3).
type Info struct {
	Hosts     []string
	Auth      string
	TTL       time.Duration
	FetchDate time.Time
}

func (i Info) expired(now time.Time) bool {
	return i.FetchDate.IsZero() || now.Sub(i.FetchDate) > i.TTL
}

// Fetcher issues the <iq type=set xmlns=w:m> media-conn query; an
// external collaborator (spec §6).
type Fetcher interface {
	FetchMediaConn(ctx context.Context) (Info, error)
}

// Conn is the MediaConn component: one shared future per process.
type Conn struct {
	fetcher Fetcher
	group   singleflight.Group

	mu      sync.RWMutex
	current Info
}

// New builds an empty Conn; the first Get call triggers the initial fetch.
func New(fetcher Fetcher) *Conn {
	return &Conn{fetcher: fetcher}
}

// Get returns a fresh Info, refreshing when absent, forced, or stale
// (spec §3: "refreshed when absent, forced, or when now - fetchDate > ttl").
// Concurrent callers racing a refresh share the single in-flight request.
func (c *Conn) Get(ctx context.Context, force bool) (Info, error) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()

	if !force && !cur.expired(time.Now()) {
		return cur, nil
	}

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		// Re-check under the singleflight gate: a concurrent caller may
		// have already refreshed while we were waiting to enter Do.
		c.mu.RLock()
		cur := c.current
		c.mu.RUnlock()
		if !force && !cur.expired(time.Now()) {
			return cur, nil
		}

		fresh, err := c.fetcher.FetchMediaConn(ctx)
		if err != nil {
			return Info{}, err
		}
		fresh.FetchDate = time.Now()

		c.mu.Lock()
		c.current = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return Info{}, err
	}
	return v.(Info), nil
}
