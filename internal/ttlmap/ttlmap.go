// Package ttlmap provides a mutex-guarded map whose entries expire after a
// per-entry idle duration. Only writes (GetOrCreate on miss, Put) refresh an
// entry's deadline — reads never do.
//
// Expired entries are dropped lazily on access and by a background sweep
// goroutine, so an entry may linger briefly past its deadline but is never
// returned to a caller once expired.
package ttlmap

import (
	"sync"
	"time"
)

// sweepInterval is how often the background sweeper scans for dead entries.
const sweepInterval = time.Minute

type entry[V any] struct {
	val      V
	deadline time.Time
}

// Map is an expiring keyed store. The zero value is not usable; construct
// with New. All methods are safe for concurrent use.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Map and starts its background sweeper.
// Call Close when the map is no longer needed.
func New[K comparable, V any]() *Map[K, V] {
	m := &Map[K, V]{
		entries: make(map[K]entry[V]),
		done:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// GetOrCreate returns the live value for key, or stores and returns
// factory() if the key is absent or its entry has expired. Creation is
// atomic with respect to concurrent callers racing on the same key: exactly
// one factory value wins. The deadline is refreshed only on creation.
func (m *Map[K, V]) GetOrCreate(key K, ttl time.Duration, factory func() V) V {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && now.Before(e.deadline) {
		return e.val
	}
	v := factory()
	m.entries[key] = entry[V]{val: v, deadline: now.Add(ttl)}
	return v
}

// Find returns the live value for key without creating one and without
// refreshing its deadline. The second return value reports presence.
func (m *Map[K, V]) Find(key K) (V, bool) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !now.Before(e.deadline) {
		delete(m.entries, key)
		var zero V
		return zero, false
	}
	return e.val, true
}

// Put inserts or replaces the value for key, refreshing its deadline.
func (m *Map[K, V]) Put(key K, v V, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = entry[V]{val: v, deadline: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// Delete removes the entry for key, if present.
func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if now.Before(e.deadline) {
			n++
		}
	}
	return n
}

// Keys returns a snapshot of all live keys in unspecified order.
func (m *Map[K, V]) Keys() []K {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, len(m.entries))
	for k, e := range m.entries {
		if now.Before(e.deadline) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Close stops the background sweeper and waits for it to exit.
// The map remains usable afterwards, but dead entries are then only dropped
// lazily on access.
func (m *Map[K, V]) Close() {
	select {
	case <-m.done:
		// already closed
	default:
		close(m.done)
	}
	m.wg.Wait()
}

// ─── background sweep ────────────────────────────────────────────────────────

func (m *Map[K, V]) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes every entry whose deadline has passed.
func (m *Map[K, V]) sweep() {
	now := time.Now()
	m.mu.Lock()
	for k, e := range m.entries {
		if !now.Before(e.deadline) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}
