// Package mock provides an in-memory transport for local testing and
// integration. It implements the transports.Transport interface without any
// network dependency.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/amira/pkg/transports"
	"github.com/harunnryd/amira/pkg/wire"
)

type Transport struct {
	mu       sync.Mutex
	handler  transports.Handler
	sent     []wire.Outbound
	open     atomic.Bool
	closed   atomic.Bool
	agentID  string
	closeCnt int32
}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) SetHandler(h transports.Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Transport) Connect(ctx context.Context, agentID string) error {
	_ = ctx
	t.mu.Lock()
	t.agentID = agentID
	t.mu.Unlock()
	t.open.Store(true)
	return t.Send(wire.Init{})
}

func (t *Transport) Send(msg wire.Outbound) error {
	if !t.open.Load() {
		return nil
	}
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Close() error {
	atomic.AddInt32(&t.closeCnt, 1)
	t.open.Store(false)
	t.closed.Store(true)
	return nil
}

// Push injects an inbound event, dispatched synchronously like the real
// read loop would.
func (t *Transport) Push(ev wire.InboundEvent) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Sent returns a copy of all outbound messages recorded so far.
func (t *Transport) Sent() []wire.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.Outbound, len(t.sent))
	copy(out, t.sent)
	return out
}

// AgentID returns the agent id passed to Connect.
func (t *Transport) AgentID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agentID
}

// CloseCount reports how many times Close was called.
func (t *Transport) CloseCount() int {
	return int(atomic.LoadInt32(&t.closeCnt))
}

// Open reports whether the mock considers the socket open.
func (t *Transport) Open() bool { return t.open.Load() }

var _ transports.Transport = (*Transport)(nil)
