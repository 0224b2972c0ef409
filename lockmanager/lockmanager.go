// Package lockmanager provides per-key mutual exclusion used by the
// admission package to serialize the day-window and
// pair-count admission checks: two concurrent createMeeting calls for
// the same student/day, or the same volunteer/student pair, must not
// both observe "no conflict".
//
// The same per-key locking shape used to serialize mutations against a
// shared resource keyed by org/user elsewhere is repointed here to
// serialize meeting admission per (volunteerId, studentId) for every
// call and, for scheduled calls, also per (studentId, localDate).
package lockmanager

import (
	"sync"
	"sync/atomic"
)

type keyEntry struct {
	mu      sync.Mutex
	waiters int32
}

// Manager hands out per-key locks, evicting entries once their last
// waiter releases so the map never grows unbounded.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

// New creates an empty lock manager.
func New() *Manager {
	return &Manager{locks: make(map[string]*keyEntry)}
}

// Lock blocks until the caller holds the exclusive lock for key and
// returns an unlock function the caller must call exactly once.
func (m *Manager) Lock(key string) func() {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyEntry{}
		m.locks[key] = entry
	}
	atomic.AddInt32(&entry.waiters, 1)
	m.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		m.mu.Lock()
		if atomic.AddInt32(&entry.waiters, -1) == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Waiting reports the number of goroutines currently holding or
// waiting on key's lock. Used by tests and /metrics.
func (m *Manager) Waiting(key string) int32 {
	m.mu.Lock()
	entry, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt32(&entry.waiters)
}
