package bidstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorMutualExclusion(t *testing.T) {
	c := NewCoordinator()

	release, err := c.Acquire(context.Background(), "runestone")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r2, err := c.Acquire(context.Background(), "runestone")
		assert.NoError(t, err)
		close(acquired)
		r2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestCoordinatorIndependentCollections(t *testing.T) {
	c := NewCoordinator()

	r1, err := c.Acquire(context.Background(), "runestone")
	require.NoError(t, err)
	defer r1()

	// A different collection must not be blocked.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := c.Acquire(ctx, "bitcoin-frogs")
	require.NoError(t, err)
	r2()
}

func TestCoordinatorAcquireRespectsContext(t *testing.T) {
	c := NewCoordinator()

	release, err := c.Acquire(context.Background(), "runestone")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Acquire(ctx, "runestone")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinatorTryAcquire(t *testing.T) {
	c := NewCoordinator()

	release, ok := c.TryAcquire("runestone")
	require.True(t, ok)

	_, ok = c.TryAcquire("runestone")
	assert.False(t, ok)

	release()
	r2, ok := c.TryAcquire("runestone")
	require.True(t, ok)
	r2()
}

func TestCoordinatorReleaseIsIdempotent(t *testing.T) {
	c := NewCoordinator()

	release, err := c.Acquire(context.Background(), "runestone")
	require.NoError(t, err)

	release()
	release()

	// The lock is free exactly once despite the double release.
	r2, ok := c.TryAcquire("runestone")
	require.True(t, ok)
	defer r2()
	_, ok = c.TryAcquire("runestone")
	assert.False(t, ok)
}
