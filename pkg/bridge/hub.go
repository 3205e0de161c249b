// Package bridge keeps at most one live widget slot per well-known id while
// host surfaces attach and detach around it. Configuration sent before the
// slot is ready is buffered, last call wins, and is delivered exactly once.
package bridge

import (
	"log/slog"
	"sync"
)

// MessageKind labels the three flows crossing the bridge.
type MessageKind string

const (
	KindReady       MessageKind = "ready"
	KindConfigure   MessageKind = "configure"
	KindStateUpdate MessageKind = "state_update"
)

// StateUpdate is the widget-visible state fanned out to every attached
// client.
type StateUpdate struct {
	CallInProgress bool
	Expanded       bool
}

// Client is one attached host surface.
type Client interface {
	OnStateUpdate(update StateUpdate)
}

// ConfigureFunc receives the winning configuration once the slot is ready.
type ConfigureFunc func(opts map[string]any)

// Slot is the single live attachment point for one widget id.
type Slot struct {
	id  string
	log *slog.Logger

	mu         sync.Mutex
	ready      bool
	deliver    ConfigureFunc
	pending    map[string]any
	hasPending bool
	clients    []Client
	state      StateUpdate
}

// Hub owns the slots. Attach for an id that already has a slot returns that
// slot; a duplicate session is never created.
type Hub struct {
	mu    sync.Mutex
	slots map[string]*Slot
	log   *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		slots: make(map[string]*Slot),
		log:   slog.Default().With(slog.String("component", "bridge")),
	}
}

// Attach joins a client to the slot for id, creating the slot on first use.
// The second return reports whether an existing slot was reused. The new
// client immediately receives the current state so a reattaching surface
// resynchronizes without waiting for the next update.
func (h *Hub) Attach(id string, c Client) (*Slot, bool) {
	h.mu.Lock()
	slot, existed := h.slots[id]
	if !existed {
		slot = &Slot{
			id:  id,
			log: h.log.With(slog.String("slot_id", id)),
		}
		h.slots[id] = slot
	}
	h.mu.Unlock()

	var state StateUpdate
	if c != nil {
		slot.mu.Lock()
		slot.clients = append(slot.clients, c)
		state = slot.state
		slot.mu.Unlock()
		c.OnStateUpdate(state)
	}
	slot.log.Info("bridge_attached", "reattach", existed)
	return slot, existed
}

// Detach removes a client from the slot. The slot itself stays alive so the
// session survives surface churn.
func (s *Slot) Detach(c Client) {
	s.mu.Lock()
	for i, existing := range s.clients {
		if existing == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// SetDeliver installs the downstream configuration consumer.
func (s *Slot) SetDeliver(fn ConfigureFunc) {
	s.mu.Lock()
	s.deliver = fn
	s.mu.Unlock()
}

// Configure submits options. Before Ready the options are buffered and each
// call replaces the previous one; after Ready they are delivered directly.
func (s *Slot) Configure(opts map[string]any) {
	s.mu.Lock()
	if !s.ready {
		s.pending = opts
		s.hasPending = true
		s.mu.Unlock()
		s.log.Debug("bridge_configure_buffered")
		return
	}
	deliver := s.deliver
	s.mu.Unlock()
	if deliver != nil {
		deliver(opts)
	}
}

// Ready marks the slot live. If any configuration was buffered, exactly the
// latest one is delivered now. Idempotent.
func (s *Slot) Ready() {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return
	}
	s.ready = true
	deliver := s.deliver
	opts := s.pending
	flush := s.hasPending
	s.pending = nil
	s.hasPending = false
	s.mu.Unlock()

	s.log.Info("bridge_ready", "buffered_configure", flush)
	if flush && deliver != nil {
		deliver(opts)
	}
}

// UpdateState records the new widget state and fans it out to every
// attached client.
func (s *Slot) UpdateState(update StateUpdate) {
	s.mu.Lock()
	s.state = update
	clients := make([]Client, len(s.clients))
	copy(clients, s.clients)
	s.mu.Unlock()

	for _, c := range clients {
		c.OnStateUpdate(update)
	}
}

// State returns the last published state.
func (s *Slot) State() StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Slot) ID() string { return s.id }
