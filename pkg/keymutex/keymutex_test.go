package keymutex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlock(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Lock(ctx, "order-1"))
	assert.True(t, m.Locked("order-1"))
	assert.False(t, m.Locked("order-2"))

	m.Unlock("order-1")
	assert.False(t, m.Locked("order-1"))
}

func TestUnlockWithoutLockIsNoop(t *testing.T) {
	m := New()

	m.Unlock("never-locked")

	require.NoError(t, m.Lock(context.Background(), "order-1"))
	m.Unlock("order-1")
	m.Unlock("order-1")
	assert.False(t, m.Locked("order-1"))
}

func TestSecondAcquireWaitsForRelease(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Lock(ctx, "order-1"))

	// events records the observable interleaving: the second acquirer must
	// not proceed before the first holder's release.
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, m.Lock(ctx, "order-1"))
		record("second acquired")
		m.Unlock("order-1")
	}()

	time.Sleep(50 * time.Millisecond)
	record("first released")
	m.Unlock("order-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquirer never got the lock")
	}

	require.Equal(t, []string{"first released", "second acquired"}, events)
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Lock(ctx, "order-1"))

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, m.Lock(ctx, "order-2"))
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("independent key was blocked")
	}

	m.Unlock("order-1")
	m.Unlock("order-2")
}

func TestLockRespectsContextCancellation(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock(context.Background(), "order-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Lock(ctx, "order-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned waiter must not leak map state or corrupt the lock.
	m.Unlock("order-1")
	require.NoError(t, m.Lock(context.Background(), "order-1"))
	m.Unlock("order-1")
}

func TestManyContendersAllEventuallyAcquire(t *testing.T) {
	m := New()
	ctx := context.Background()

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			require.NoError(t, m.Lock(ctx, "order-1"))
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			m.Unlock("order-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "critical section was never exclusive")
	assert.False(t, m.Locked("order-1"))
}
