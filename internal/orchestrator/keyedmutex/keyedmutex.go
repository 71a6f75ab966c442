// Package keyedmutex provides per-key mutual exclusion, generalizing the
// teacher's lock-protected client map (internal/mcp.ClientRegistry) from one
// registry-wide lock guarding a map of clients to one lock per map key, so
// turns against different sessions never block each other while turns
// against the same session still serialize.
package keyedmutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map holds one lock per key, created on first use and discarded once no
// goroutine holds or waits on it.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquires the lock for key, blocking until it is free, and returns an
// unlock function the caller must call exactly once to release it.
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}
