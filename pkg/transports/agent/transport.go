// Package agent implements the websocket transport to the conversational
// voice-agent endpoint.
package agent

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/amira/pkg/errorsx"
	"github.com/harunnryd/amira/pkg/transports"
	"github.com/harunnryd/amira/pkg/wire"
)

type Config struct {
	Endpoint      string `mapstructure:"endpoint"`
	APIKey        string `mapstructure:"api_key"`
	Origin        string `mapstructure:"origin"`
	WriteBuffer   int    `mapstructure:"write_buffer"`
	DialTimeoutMS int    `mapstructure:"dial_timeout_ms"`
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "wss://api.convai.example.com/v1/conversation"
	}
	if c.WriteBuffer <= 0 {
		c.WriteBuffer = 256
	}
	if c.DialTimeoutMS <= 0 {
		c.DialTimeoutMS = 10000
	}
	return c
}

// Transport dials the agent endpoint and pumps messages through one reader
// and one writer goroutine. Inbound events are dispatched to the handler in
// strict arrival order from the read loop.
type Transport struct {
	cfg     Config
	handler transports.Handler

	mu      sync.Mutex
	conn    *websocket.Conn
	writeCh chan []byte

	open         atomic.Bool
	closed       atomic.Bool
	disconnected atomic.Bool
	closeOnce    sync.Once
}

func New(cfg Config) *Transport {
	return &Transport{cfg: cfg.withDefaults()}
}

func (t *Transport) Name() string { return "agent_ws" }

func (t *Transport) SetHandler(h transports.Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Transport) Connect(ctx context.Context, agentID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.closed.Load() {
		return errorsx.New("transport already closed", errorsx.ReasonTransportClosed)
	}
	if t.open.Load() {
		return errorsx.New("transport already connected", errorsx.ReasonTransportConnect)
	}

	u, err := t.buildURL(agentID)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportConnect)
	}

	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Set("xi-api-key", t.cfg.APIKey)
	}
	if t.cfg.Origin != "" {
		header.Set("Origin", t.cfg.Origin)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: time.Duration(t.cfg.DialTimeoutMS) * time.Millisecond,
	}
	conn, _, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		slog.Error("agent_transport_dial_failed",
			"agent_id", agentID,
			"error", err.Error())
		return errorsx.Wrap(err, errorsx.ReasonTransportConnect)
	}

	t.mu.Lock()
	t.conn = conn
	t.writeCh = make(chan []byte, t.cfg.WriteBuffer)
	t.mu.Unlock()
	t.open.Store(true)

	slog.Info("agent_transport_connected", "agent_id", agentID)

	go t.writeLoop(conn)
	go t.readLoop(conn)

	// The initiation message goes out immediately on socket-open; the
	// session is only established once metadata comes back.
	return t.Send(wire.Init{})
}

func (t *Transport) Send(msg wire.Outbound) error {
	if !t.open.Load() {
		slog.Warn("agent_transport_send_dropped",
			"reason_code", string(errorsx.ReasonTransportSend))
		return nil
	}
	b, err := msg.Marshal()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	t.mu.Lock()
	ch := t.writeCh
	t.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case ch <- b:
	default:
		slog.Warn("agent_transport_write_buffer_full")
	}
	return nil
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.open.Store(false)
		t.closed.Store(true)
		t.mu.Lock()
		conn := t.conn
		ch := t.writeCh
		t.writeCh = nil
		t.mu.Unlock()
		if ch != nil {
			close(ch)
		}
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		}
	})
	return nil
}

func (t *Transport) buildURL(agentID string) (string, error) {
	u, err := url.Parse(t.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *Transport) writeLoop(conn *websocket.Conn) {
	t.mu.Lock()
	ch := t.writeCh
	t.mu.Unlock()
	if ch == nil {
		return
	}
	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Warn("agent_transport_write_error", "error", err.Error())
			return
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.emitDisconnected("remote_close", nil)
			} else {
				t.emitDisconnected("read_error", errorsx.Wrap(err, errorsx.ReasonTransportClosed))
			}
			return
		}
		ev, err := wire.ParseInbound(data)
		if err != nil {
			// One malformed frame must not end the session.
			slog.Warn("agent_transport_parse_error",
				"reason_code", string(errorsx.Reason(err)),
				"error", err.Error())
			continue
		}
		if u, ok := ev.(wire.Unknown); ok {
			slog.Debug("agent_transport_unknown_event", "type", string(u.Type))
			continue
		}
		if ping, ok := ev.(wire.Ping); ok {
			t.schedulePong(ping.Event)
		}
		t.dispatch(ev)
	}
}

// schedulePong honors the server's pacing hint: reply after exactly the
// hinted delay, not immediately.
func (t *Transport) schedulePong(ev wire.PingEvent) {
	delay := time.Duration(ev.PingMS) * time.Millisecond
	eventID := ev.EventID
	if delay <= 0 {
		_ = t.Send(wire.Pong{EventID: eventID})
		return
	}
	time.AfterFunc(delay, func() {
		_ = t.Send(wire.Pong{EventID: eventID})
	})
}

func (t *Transport) dispatch(ev wire.InboundEvent) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (t *Transport) emitDisconnected(reason string, err error) {
	if !t.disconnected.CompareAndSwap(false, true) {
		return
	}
	t.open.Store(false)
	if err != nil {
		slog.Warn("agent_transport_disconnected", "reason", reason, "error", err.Error())
	} else {
		slog.Info("agent_transport_disconnected", "reason", reason)
	}
	t.dispatch(wire.Disconnected{Reason: reason, Err: err})
}

var _ transports.Transport = (*Transport)(nil)
