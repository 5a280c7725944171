package signalcrypto

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeerLocksSerializesSameKey(t *testing.T) {
	locks := NewPeerLocks()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = locks.WithLock("peer-a", func() error {
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.Len(t, order, 5)
}

func TestPeerLocksIndependentKeysDoNotBlock(t *testing.T) {
	locks := NewPeerLocks()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = locks.WithLock("peer-a", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_ = locks.WithLock("peer-b", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
		// peer-b proceeded without waiting on peer-a's lock.
	case <-time.After(time.Second):
		t.Fatal("unrelated peer key was blocked by an unrelated lock")
	}
	close(release)
}

func TestRandomRegistrationIDFitsFourteenBits(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 20; i++ {
		id := randomRegistrationID()
		assert.Less(t, id, uint32(1<<14))
		seen[id] = true
	}
}
