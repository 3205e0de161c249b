// Package convo drives one conversation session: it consumes typed inbound
// events, owns capture and playback for the session's lifetime, and re-emits
// transcript text and connection state to the host layer.
package convo

import (
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateEstablished
	StateClosing
	StateErrored
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Mode is the UI-level derived flag: whether the agent is currently
// speaking or the user holds the floor. Not a literal FSM state; audio and
// transcript events interleave freely while Established.
type Mode int

const (
	ModeListening Mode = iota
	ModeSpeaking
)

func (m Mode) String() string {
	if m == ModeSpeaking {
		return "SPEAKING"
	}
	return "LISTENING"
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

type stateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (sm *stateMachine) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:        {StateConnecting},
		StateConnecting:  {StateEstablished, StateClosing, StateErrored, StateIdle},
		StateEstablished: {StateClosing, StateErrored, StateIdle},
		StateClosing:     {StateIdle},
		StateErrored:     {StateIdle, StateConnecting},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation. Listeners are notified
// outside the lock.
func (sm *stateMachine) Transition(to State, reason string) error {
	sm.mu.Lock()
	if !sm.transitionValid(sm.current, to) {
		from := sm.current
		sm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	from := sm.current
	sm.current = to
	listeners := make([]StateListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	event := StateChange{
		FromState: from,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (sm *stateMachine) AddListener(l StateListener) {
	sm.mu.Lock()
	sm.listeners = append(sm.listeners, l)
	sm.mu.Unlock()
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
