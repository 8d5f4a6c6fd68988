package bidstate

import (
	"context"
	"sync"
)

// Coordinator provides per-collection mutual exclusion between the scheduled
// reconciliation loop and the realtime event reactor. Acquisition is
// context-aware and queued in FIFO order by the runtime, replacing the
// flag-and-poll spin wait the engine previously relied on.
type Coordinator struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{locks: make(map[string]chan struct{})}
}

func (c *Coordinator) lock(collectionSymbol string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.locks[collectionSymbol]
	if !ok {
		ch = make(chan struct{}, 1)
		c.locks[collectionSymbol] = ch
	}
	return ch
}

// Acquire blocks until the collection lock is held or ctx is done. On success
// it returns a release function that must be called on every exit path; the
// release function is safe to call more than once.
func (c *Coordinator) Acquire(ctx context.Context, collectionSymbol string) (func(), error) {
	ch := c.lock(collectionSymbol)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-ch })
	}
	return release, nil
}

// TryAcquire acquires the collection lock only if it is immediately free.
func (c *Coordinator) TryAcquire(collectionSymbol string) (func(), bool) {
	ch := c.lock(collectionSymbol)
	select {
	case ch <- struct{}{}:
	default:
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, true
}
