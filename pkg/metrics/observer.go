package metrics

import "time"

// Event is one observed fact about a session: a state change, a first-audio
// latency sample, a dropped send.
type Event struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev Event)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}

type MultiObserver struct {
	list []Observer
}

func NewMultiObserver(list ...Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev Event) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
