// Package keymutex provides a mutex keyed by string, used to serialize
// webhook processing per external resource id.
//
// The lock is process-local: it does not coordinate across multiple running
// instances of the service. Deployments that scale horizontally need a
// lease-based lock in the shared store layered under this one.
package keymutex

import (
	"context"
	"sync"
)

type entry struct {
	// sem is a one-slot semaphore; holding the token means holding the lock.
	// Channel handoff avoids the busy-polling a shared set would need.
	sem  chan struct{}
	refs int
}

// KeyMutex serializes callers per key. The zero value is not usable; call New.
type KeyMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty KeyMutex.
func New() *KeyMutex {
	return &KeyMutex{entries: make(map[string]*entry)}
}

// Lock blocks until the key's lock is acquired or ctx is done. Acquisition
// order among concurrent callers is not guaranteed to be fair.
func (m *KeyMutex) Lock(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.release(key, e)
		return ctx.Err()
	}
}

// Unlock releases the key's lock. Calling Unlock for a key that is not held
// is a no-op, matching the forgiving release semantics handlers rely on in
// their deferred cleanup.
func (m *KeyMutex) Unlock(key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-e.sem:
		m.release(key, e)
	default:
	}
}

// Locked reports whether the key's lock is currently held.
func (m *KeyMutex) Locked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && len(e.sem) == 1
}

// release drops one reference and evicts the entry once nobody holds or
// waits on it, keeping the map from growing with one entry per order ever
// seen.
func (m *KeyMutex) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
