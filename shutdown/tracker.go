package shutdown

import (
	"io"
	"sync"
)

// ConnectionTracker holds the live connections that shutdown must close.
// Transports add connections as they open and remove them as they end.
type ConnectionTracker struct {
	mu    sync.RWMutex
	conns map[string]io.Closer
}

// NewConnectionTracker creates an empty tracker.
func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{
		conns: make(map[string]io.Closer),
	}
}

// Add tracks c under id, replacing any existing entry.
func (t *ConnectionTracker) Add(id string, c io.Closer) {
	t.mu.Lock()
	t.conns[id] = c
	t.mu.Unlock()
}

// Remove stops tracking id. Unknown ids are ignored.
func (t *ConnectionTracker) Remove(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

// Snapshot returns a copy of the tracked connections. The copy is the only
// point where a shutdown drain holds the lock.
func (t *ConnectionTracker) Snapshot() map[string]io.Closer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := make(map[string]io.Closer, len(t.conns))
	for id, c := range t.conns {
		snap[id] = c
	}
	return snap
}

// Len returns the number of tracked connections.
func (t *ConnectionTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
