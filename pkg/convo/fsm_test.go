package convo

import (
	"sync"
	"testing"
)

type recordingListener struct {
	mu      sync.Mutex
	changes []StateChange
}

func (l *recordingListener) OnStateChange(event StateChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, event)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

func TestStateMachineHappyPath(t *testing.T) {
	sm := newStateMachine()
	listener := &recordingListener{}
	sm.AddListener(listener)

	steps := []State{StateConnecting, StateEstablished, StateClosing, StateIdle}
	for _, to := range steps {
		if err := sm.Transition(to, "test"); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if sm.State() != StateIdle {
		t.Fatalf("expected IDLE, got %s", sm.State())
	}
	if listener.count() != len(steps) {
		t.Fatalf("expected %d notifications, got %d", len(steps), listener.count())
	}
}

func TestStateMachineRejectsInvalid(t *testing.T) {
	sm := newStateMachine()

	if err := sm.Transition(StateEstablished, "skip connecting"); err == nil {
		t.Fatalf("expected invalid transition error")
	}
	if sm.State() != StateIdle {
		t.Fatalf("failed transition must not change state, got %s", sm.State())
	}

	var invalid *InvalidTransitionError
	err := sm.Transition(StateClosing, "from idle")
	if err == nil {
		t.Fatalf("expected invalid transition error")
	}
	var ok bool
	invalid, ok = err.(*InvalidTransitionError)
	if !ok {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if invalid.From != StateIdle || invalid.To != StateClosing {
		t.Fatalf("unexpected error content: %+v", invalid)
	}
}

func TestStateMachineErroredRecovery(t *testing.T) {
	sm := newStateMachine()
	if err := sm.Transition(StateConnecting, "connect"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if err := sm.Transition(StateErrored, "dial failed"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if err := sm.Transition(StateConnecting, "reconnect"); err != nil {
		t.Fatalf("errored must allow reconnect: %v", err)
	}
}
