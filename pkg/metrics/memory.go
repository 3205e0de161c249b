package metrics

import "sync"

// MemoryObserver accumulates events in memory; used by tests and the
// example host to inspect what a session did.
type MemoryObserver struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *MemoryObserver) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
