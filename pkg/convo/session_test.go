package convo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/amira/pkg/capture"
	"github.com/harunnryd/amira/pkg/errorsx"
	"github.com/harunnryd/amira/pkg/playback"
	"github.com/harunnryd/amira/pkg/tools"
	"github.com/harunnryd/amira/pkg/transports/mock"
	"github.com/harunnryd/amira/pkg/wire"
)

type gatedSource struct {
	gate   chan byte
	closed chan struct{}
	once   sync.Once
}

func newGatedSource() *gatedSource {
	return &gatedSource{gate: make(chan byte, 64), closed: make(chan struct{})}
}

func (s *gatedSource) allow(v byte) { s.gate <- v }

func (s *gatedSource) Read(p []byte) (int, error) {
	select {
	case v := <-s.gate:
		for i := range p {
			p[i] = v
		}
		return len(p), nil
	case <-s.closed:
		return 0, errors.New("source closed")
	}
}

func (s *gatedSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	writes [][]float32
	closed bool
}

func (s *recordingSink) WriteSamples(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float32, len(samples))
	copy(out, samples)
	s.writes = append(s.writes, out)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type sessionFixture struct {
	session   *Session
	transport *mock.Transport
	source    *gatedSource
	opens     *int

	mu    sync.Mutex
	sinks []*recordingSink

	modes  []Mode
	errs   []error
	states []StateChange
}

func newFixture(t *testing.T, registry *tools.Registry) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		transport: mock.New(),
		source:    newGatedSource(),
		opens:     new(int),
	}
	f.session = NewSession(Options{
		AgentID:   "agent-1",
		Transport: f.transport,
		OpenSource: func(ctx context.Context, c capture.Constraints) (capture.Source, error) {
			*f.opens++
			return f.source, nil
		},
		Constraints: capture.DefaultConstraints(),
		NewSink: func() (playback.Sink, error) {
			sink := &recordingSink{}
			f.mu.Lock()
			f.sinks = append(f.sinks, sink)
			f.mu.Unlock()
			return sink, nil
		},
		Tools: registry,
		ToolOptions: tools.DispatcherOptions{
			Concurrency: 1,
			Timeout:     time.Second,
		},
		Callbacks: Callbacks{
			OnModeChange: func(m Mode) {
				f.mu.Lock()
				f.modes = append(f.modes, m)
				f.mu.Unlock()
			},
			OnError: func(err error) {
				f.mu.Lock()
				f.errs = append(f.errs, err)
				f.mu.Unlock()
			},
			OnStateChange: func(change StateChange) {
				f.mu.Lock()
				f.states = append(f.states, change)
				f.mu.Unlock()
			},
		},
	})
	return f
}

func (f *sessionFixture) establish(t *testing.T) {
	t.Helper()
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	f.transport.Push(wire.Metadata{
		Type:  wire.EventMetadata,
		Event: wire.MetadataEvent{ConversationID: "conv-1"},
	})
	if f.session.State() != StateEstablished {
		t.Fatalf("expected ESTABLISHED, got %s", f.session.State())
	}
}

func (f *sessionFixture) sink(i int) *recordingSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sinks) {
		return nil
	}
	return f.sinks[i]
}

func (f *sessionFixture) sinkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks)
}

func audioEvent(id int64, b byte) wire.Audio {
	return wire.Audio{
		Type: wire.EventAudio,
		Event: wire.AudioEvent{
			AudioBase64: base64.StdEncoding.EncodeToString([]byte{b, 0x00, b, 0x00}),
			EventID:     id,
		},
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func countSent[T wire.Outbound](f *sessionFixture) int {
	n := 0
	for _, msg := range f.transport.Sent() {
		if _, ok := msg.(T); ok {
			n++
		}
	}
	return n
}

func TestSessionEstablishment(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)
	defer f.session.Disconnect()

	if f.session.ConversationID() != "conv-1" {
		t.Fatalf("unexpected conversation id %q", f.session.ConversationID())
	}
	if *f.opens != 1 {
		t.Fatalf("expected exactly one capture start, got %d", *f.opens)
	}
	if got := countSent[wire.Init](f); got != 1 {
		t.Fatalf("expected one initiation message, got %d", got)
	}
	if got := countSent[wire.UserActivity](f); got != 1 {
		t.Fatalf("expected user_activity on establishment, got %d", got)
	}
	if got := countSent[wire.UserAudioChunk](f); got != 0 {
		t.Fatalf("no audio may be sent before frames are captured, got %d", got)
	}
}

func TestSessionDuplicateMetadataIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)
	defer f.session.Disconnect()

	f.transport.Push(wire.Metadata{
		Type:  wire.EventMetadata,
		Event: wire.MetadataEvent{ConversationID: "conv-other"},
	})
	if f.session.ConversationID() != "conv-1" {
		t.Fatalf("conversation id must be immutable, got %q", f.session.ConversationID())
	}
	if *f.opens != 1 {
		t.Fatalf("expected one capture start, got %d", *f.opens)
	}
}

func TestSessionAudioPlaysAndModeFlips(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)
	defer f.session.Disconnect()

	f.transport.Push(audioEvent(1, 0x10))
	f.transport.Push(audioEvent(2, 0x20))
	waitUntil(t, func() bool { return f.sink(0) != nil && f.sink(0).writeCount() == 2 })

	f.mu.Lock()
	gotSpeaking := len(f.modes) > 0 && f.modes[0] == ModeSpeaking
	f.mu.Unlock()
	if !gotSpeaking {
		t.Fatalf("expected mode SPEAKING after first audio")
	}
}

func TestSessionInterruptionDiscardsStaleAudio(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)
	defer f.session.Disconnect()

	f.transport.Push(audioEvent(1, 0x01))
	waitUntil(t, func() bool { return f.sink(0) != nil && f.sink(0).writeCount() == 1 })

	f.transport.Push(wire.Interruption{
		Type:  wire.EventInterruption,
		Event: wire.InterruptionEvent{EventID: 5, Reason: "user_speech"},
	})
	if f.sinkCount() != 2 {
		t.Fatalf("expected a fresh player after interruption, have %d sinks", f.sinkCount())
	}
	if !f.sink(0).closed {
		t.Fatalf("expected old sink closed on interruption")
	}

	// At or below the interruption watermark: dropped.
	f.transport.Push(audioEvent(4, 0x04))
	f.transport.Push(audioEvent(5, 0x05))
	// Above the watermark: played on the new player.
	f.transport.Push(audioEvent(6, 0x06))
	waitUntil(t, func() bool { return f.sink(1).writeCount() == 1 })

	time.Sleep(50 * time.Millisecond)
	if got := f.sink(1).writeCount(); got != 1 {
		t.Fatalf("stale audio leaked through: %d writes", got)
	}
}

func TestSessionToolCallsAlwaysAnswered(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register("echo", func(ctx context.Context, params map[string]any) (string, error) {
		return fmt.Sprintf("%v", params["msg"]), nil
	})
	f := newFixture(t, registry)
	f.establish(t)
	defer f.session.Disconnect()

	f.transport.Push(wire.ClientToolCall{
		Type: wire.EventClientToolCall,
		Event: wire.ClientToolCallEvent{
			ToolName:   "echo",
			ToolCallID: "call-ok",
			Parameters: map[string]any{"msg": "hi"},
		},
	})
	f.transport.Push(wire.ClientToolCall{
		Type: wire.EventClientToolCall,
		Event: wire.ClientToolCallEvent{
			ToolName:   "no_such_tool",
			ToolCallID: "call-bad",
		},
	})
	waitUntil(t, func() bool { return countSent[wire.ClientToolResult](f) == 2 })

	results := map[string]wire.ClientToolResult{}
	for _, msg := range f.transport.Sent() {
		if res, ok := msg.(wire.ClientToolResult); ok {
			results[res.ToolCallID] = res
		}
	}
	ok := results["call-ok"]
	if ok.Result != "hi" || ok.Error != "" {
		t.Fatalf("unexpected success result %+v", ok)
	}
	bad := results["call-bad"]
	if bad.Error == "" {
		t.Fatalf("unknown tool must produce an error-tagged response")
	}
}

func TestSessionCaptureFramesForwarded(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)
	defer f.session.Disconnect()

	f.source.allow(0x0A)
	f.source.allow(0x0B)
	waitUntil(t, func() bool { return countSent[wire.UserAudioChunk](f) == 2 })

	var chunks []wire.UserAudioChunk
	for _, msg := range f.transport.Sent() {
		if c, ok := msg.(wire.UserAudioChunk); ok {
			chunks = append(chunks, c)
		}
	}
	first, err := base64.StdEncoding.DecodeString(chunks[0].AudioBase64)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(first) != capture.FrameBytes || first[0] != 0x0A {
		t.Fatalf("unexpected first chunk: %d bytes, byte %x", len(first), first[0])
	}
}

func TestSessionMuteRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)
	defer f.session.Disconnect()

	before := countSent[wire.UserActivity](f)
	f.session.SetMuted(true)
	if !f.session.Muted() {
		t.Fatalf("expected muted")
	}
	f.session.SetMuted(false)
	if got := countSent[wire.UserActivity](f); got != before+1 {
		t.Fatalf("expected user_activity on unmute, got %d -> %d", before, got)
	}
}

func TestSessionRemoteCloseTeardown(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)

	f.transport.Push(wire.Disconnected{Reason: "remote_close"})
	if f.session.State() != StateIdle {
		t.Fatalf("clean close must end in IDLE, got %s", f.session.State())
	}
	if f.transport.CloseCount() == 0 {
		t.Fatalf("expected transport closed on teardown")
	}
}

func TestSessionTransportErrorTeardown(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)

	f.transport.Push(wire.Disconnected{
		Reason: "read_error",
		Err:    errors.New("connection reset"),
	})
	if f.session.State() != StateErrored {
		t.Fatalf("transport failure must end in ERRORED, got %s", f.session.State())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		t.Fatalf("expected error callback")
	}
	if !errorsx.HasReason(f.errs[len(f.errs)-1], errorsx.ReasonTransportClosed) {
		t.Fatalf("expected transport_closed reason, got %s", errorsx.Reason(f.errs[len(f.errs)-1]))
	}
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t)

	f.session.Disconnect()
	closes := f.transport.CloseCount()
	ends := countSent[wire.ConversationEnd](f)
	f.session.Disconnect()

	if f.session.State() != StateIdle {
		t.Fatalf("expected IDLE after disconnect, got %s", f.session.State())
	}
	if ends != 1 {
		t.Fatalf("expected one conversation_end, got %d", ends)
	}
	if f.transport.CloseCount() != closes {
		t.Fatalf("second disconnect must be a no-op")
	}
	if got := countSent[wire.ConversationEnd](f); got != 1 {
		t.Fatalf("second disconnect sent another conversation_end: %d", got)
	}
}

func TestSessionTranscriptFlow(t *testing.T) {
	var (
		mu      sync.Mutex
		finals  []string
		partial string
	)
	f := newFixture(t, nil)
	f.session.opts.Callbacks.OnAgentResponse = func(text string, final bool) {
		mu.Lock()
		defer mu.Unlock()
		if final {
			finals = append(finals, text)
		} else {
			partial = text
		}
	}
	f.establish(t)
	defer f.session.Disconnect()

	f.transport.Push(wire.TentativeAgentResponse{
		Type:  wire.EventTentativeAgentResponse,
		Event: wire.TentativeAgentResponseEvent{Text: "Let me ch"},
	})
	f.transport.Push(wire.AgentResponse{
		Type:  wire.EventAgentResponse,
		Event: wire.AgentResponseEvent{Text: "Let me check that for you."},
	})
	f.transport.Push(wire.UserTranscript{
		Type:  wire.EventUserTranscript,
		Event: wire.UserTranscriptEvent{Text: "where is my order"},
	})
	f.transport.Push(wire.AgentResponseCorrection{
		Type: wire.EventAgentResponseCorrection,
		Event: wire.AgentResponseCorrectionEvent{
			Original:  "Let me check that for you.",
			Corrected: "Let me check.",
		},
	})

	mu.Lock()
	if partial != "Let me ch" {
		t.Fatalf("unexpected partial %q", partial)
	}
	if len(finals) != 1 || finals[0] != "Let me check that for you." {
		t.Fatalf("unexpected finals %v", finals)
	}
	mu.Unlock()

	history := f.session.Transcript().History()
	if len(history) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(history))
	}
	if history[0].Text != "Let me check." {
		t.Fatalf("correction must replace the finalized agent line, got %q", history[0].Text)
	}
	if history[1].Text != "where is my order" {
		t.Fatalf("unexpected user line %q", history[1].Text)
	}
}
