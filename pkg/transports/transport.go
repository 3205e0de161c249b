package transports

import (
	"context"

	"github.com/harunnryd/amira/pkg/wire"
)

// Handler receives every inbound event, strictly in arrival order.
// Implementations of Transport must never reorder or parallelize dispatch;
// the conversation layer's interruption semantics depend on it.
type Handler func(ev wire.InboundEvent)

// Transport owns one duplex socket to the voice-agent endpoint.
// Socket-open is the transport's concern; session-established (first
// metadata event) belongs to the conversation layer.
type Transport interface {
	Name() string

	// Connect opens the socket and sends the initiation message.
	// The handler must be registered before Connect.
	Connect(ctx context.Context, agentID string) error

	// Send serializes and transmits. When the socket is not open the
	// message is dropped with a logged warning; sends during connect or
	// close races are non-fatal by contract.
	Send(msg wire.Outbound) error

	// Close is idempotent and safe on a never-connected transport.
	Close() error

	SetHandler(h Handler)
}
