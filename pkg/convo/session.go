package convo

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/amira/pkg/aggregators"
	"github.com/harunnryd/amira/pkg/capture"
	"github.com/harunnryd/amira/pkg/errorsx"
	"github.com/harunnryd/amira/pkg/frames"
	"github.com/harunnryd/amira/pkg/metrics"
	"github.com/harunnryd/amira/pkg/playback"
	"github.com/harunnryd/amira/pkg/redact"
	"github.com/harunnryd/amira/pkg/tools"
	"github.com/harunnryd/amira/pkg/transports"
	"github.com/harunnryd/amira/pkg/wire"
)

// Callbacks are the host-facing hooks. All of them fire from the transport's
// dispatch goroutine, in event order; implementations must not block.
type Callbacks struct {
	OnStateChange             func(change StateChange)
	OnModeChange              func(mode Mode)
	OnUserTranscript          func(text string)
	OnAgentResponse           func(text string, final bool)
	OnAgentResponseCorrection func(original, corrected string)
	OnError                   func(err error)
}

type Options struct {
	AgentID            string
	Transport          transports.Transport
	OpenSource         capture.OpenFunc
	Constraints        capture.Constraints
	NewSink            func() (playback.Sink, error)
	PlaybackQueueDepth int
	Tools              *tools.Registry
	ToolOptions        tools.DispatcherOptions
	Transcript         aggregators.TranscriptConfig
	Callbacks          Callbacks
	Observer           metrics.Observer
}

// Session is one conversation from connect to teardown. It is single-use:
// after Disconnect or a remote close, build a new Session for the next call.
//
// Socket-open is not session-established. The session stays CONNECTING until
// the first metadata event arrives; only then does capture start and audio
// flow in either direction.
type Session struct {
	opts       Options
	sm         *stateMachine
	transport  transports.Transport
	cap        *capture.Capture
	dispatcher *tools.Dispatcher
	transcript *aggregators.TranscriptAggregator
	obs        metrics.Observer
	log        *slog.Logger
	pts        *frames.PTSGen

	traceID     string
	connectedAt time.Time
	runCtx      context.Context

	mu            sync.Mutex
	player        *playback.Player
	convID        string
	lastInterrupt int64
	speaking      bool
	sawAudio      bool

	closeOnce sync.Once
}

func NewSession(opts Options) *Session {
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry()
	}
	s := &Session{
		opts:       opts,
		sm:         newStateMachine(),
		transport:  opts.Transport,
		transcript: aggregators.NewTranscriptAggregator(opts.Transcript),
		obs:        opts.Observer,
		log:        slog.Default().With(slog.String("component", "convo")),
		pts:        frames.NewPTSGen(),
	}
	s.cap = capture.New(opts.OpenSource, opts.Constraints, s.sendFrame)
	s.dispatcher = tools.NewDispatcher(opts.Tools, s.respondTool, opts.ToolOptions)
	s.sm.AddListener(stateListenerFunc(s.onStateChange))
	return s
}

// Connect opens the transport and waits for establishment asynchronously.
// A non-nil return means the socket never opened; establishment failures
// after that surface through Callbacks.OnError and the state machine.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.sm.Transition(StateConnecting, "connect_requested"); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.traceID = uuid.NewString()
	s.connectedAt = time.Now()
	s.runCtx = ctx
	s.log = s.log.With(slog.String("trace_id", s.traceID))

	s.transport.SetHandler(s.handleEvent)
	if err := s.transport.Connect(ctx, s.opts.AgentID); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonTransportConnect)
		_ = s.sm.Transition(StateErrored, "connect_failed")
		s.reportError(err)
		return err
	}
	return nil
}

// Disconnect ends the session from the client side: announce the end,
// then release capture, playback, and the socket, in that order. Idempotent.
func (s *Session) Disconnect() {
	switch s.sm.State() {
	case StateIdle, StateErrored, StateClosing:
		return
	}
	if err := s.sm.Transition(StateClosing, "disconnect_requested"); err != nil {
		return
	}
	_ = s.transport.Send(wire.ConversationEnd{})
	s.shutdown()
	_ = s.sm.Transition(StateIdle, "disconnected")
	s.record("session_closed", sinceMS(s.connectedAt), nil)
}

// SetMuted toggles outbound audio without releasing the device. Unmute
// nudges the agent with a user_activity message so barge-in stays snappy.
func (s *Session) SetMuted(muted bool) {
	s.cap.SetMuted(muted)
	if !muted && s.sm.State() == StateEstablished {
		_ = s.transport.Send(wire.UserActivity{})
	}
	s.log.Debug("session_mute_changed", "muted", muted)
}

func (s *Session) Muted() bool { return s.cap.Muted() }

// SendContextualUpdate injects out-of-band text into the conversation.
func (s *Session) SendContextualUpdate(text string) error {
	if s.sm.State() != StateEstablished {
		return errorsx.New("session not established", errorsx.ReasonTransportClosed)
	}
	return s.transport.Send(wire.ContextualUpdate{Text: text})
}

func (s *Session) State() State { return s.sm.State() }

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

func (s *Session) TraceID() string { return s.traceID }

func (s *Session) Transcript() *aggregators.TranscriptAggregator { return s.transcript }

// handleEvent is the single dispatch point for inbound events. The transport
// guarantees serial, in-order delivery, so no event-level locking is needed
// beyond the shared player and interruption watermark.
func (s *Session) handleEvent(ev wire.InboundEvent) {
	switch e := ev.(type) {
	case wire.Metadata:
		s.handleMetadata(e)
	case wire.Audio:
		s.handleAudio(e)
	case wire.Interruption:
		s.handleInterruption(e)
	case wire.UserTranscript:
		s.handleUserTranscript(e)
	case wire.TentativeAgentResponse:
		s.transcript.SetTentative(e.Event.Text)
		if s.opts.Callbacks.OnAgentResponse != nil {
			s.opts.Callbacks.OnAgentResponse(e.Event.Text, false)
		}
	case wire.AgentResponse:
		s.transcript.FinalizeAgent(e.Event.Text)
		s.log.Info("agent_response", "text", redact.Text(e.Event.Text))
		if s.opts.Callbacks.OnAgentResponse != nil {
			s.opts.Callbacks.OnAgentResponse(e.Event.Text, true)
		}
	case wire.AgentResponseCorrection:
		s.transcript.Correct(e.Event.Original, e.Event.Corrected)
		if s.opts.Callbacks.OnAgentResponseCorrection != nil {
			s.opts.Callbacks.OnAgentResponseCorrection(e.Event.Original, e.Event.Corrected)
		}
	case wire.ClientToolCall:
		s.record("tool_call", 0, map[string]string{"tool_name": e.Event.ToolName})
		s.dispatcher.Dispatch(e.Event.ToolCallID, e.Event.ToolName, e.Event.Parameters)
	case wire.Ping:
		// The transport schedules the pong; nothing to do here.
	case wire.Disconnected:
		s.handleDisconnected(e)
	case wire.Unknown:
		s.log.Debug("session_unknown_event", "event_type", string(e.Type))
	}
}

func (s *Session) handleMetadata(e wire.Metadata) {
	if s.sm.State() != StateConnecting {
		s.log.Warn("session_unexpected_metadata", "state", s.sm.State().String())
		return
	}
	s.mu.Lock()
	s.convID = e.Event.ConversationID
	s.player = s.newPlayer()
	s.mu.Unlock()

	_ = s.sm.Transition(StateEstablished, "metadata_received")
	s.log = s.log.With(slog.String("conversation_id", e.Event.ConversationID))
	s.log.Info("session_established",
		"agent_audio_format", e.Event.AgentAudioFormat,
		"user_audio_format", e.Event.UserAudioFormat)
	s.record("session_established", sinceMS(s.connectedAt),
		map[string]string{"conversation_id": e.Event.ConversationID})

	if err := s.cap.Start(s.runCtx); err != nil {
		// Capture failure is not fatal: the session continues listen-only.
		s.reportError(err)
		return
	}
	_ = s.transport.Send(wire.UserActivity{})
}

func (s *Session) handleAudio(e wire.Audio) {
	s.mu.Lock()
	if e.Event.EventID != 0 && e.Event.EventID <= s.lastInterrupt {
		s.mu.Unlock()
		s.log.Debug("session_stale_audio_dropped", "event_id", e.Event.EventID)
		return
	}
	player := s.player
	firstAudio := !s.sawAudio
	s.sawAudio = true
	s.mu.Unlock()
	if player == nil {
		return
	}

	data, err := base64.StdEncoding.DecodeString(e.Event.AudioBase64)
	if err != nil {
		s.reportError(errorsx.Wrap(err, errorsx.ReasonAudioDecode))
		return
	}
	if firstAudio {
		s.record("first_audio", sinceMS(s.connectedAt), nil)
	}

	f := frames.NewAudioFrameFromPool(s.convID, s.pts.Next("agent"), data,
		capture.DefaultSampleRate, capture.DefaultChannels,
		map[string]string{
			frames.MetaSource:  "agent",
			frames.MetaEventID: strconv.FormatInt(e.Event.EventID, 10),
		})
	if err := player.Enqueue(f); err != nil {
		frames.ReleaseAudioFrame(f)
		s.log.Debug("session_audio_after_stop", "event_id", e.Event.EventID)
		return
	}
	s.setSpeaking(true)
}

func (s *Session) handleInterruption(e wire.Interruption) {
	s.mu.Lock()
	if e.Event.EventID > s.lastInterrupt {
		s.lastInterrupt = e.Event.EventID
	}
	old := s.player
	if s.sm.State() == StateEstablished {
		s.player = s.newPlayer()
	} else {
		s.player = nil
	}
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	s.log.Info("session_interrupted",
		"event_id", e.Event.EventID,
		"reason", e.Event.Reason)
	s.record("interruption", 0, nil)
	s.setSpeaking(false)
}

func (s *Session) handleUserTranscript(e wire.UserTranscript) {
	s.transcript.AddUser(e.Event.Text)
	s.log.Info("user_transcript", "text", redact.Text(e.Event.Text))
	s.setSpeaking(false)
	if s.opts.Callbacks.OnUserTranscript != nil {
		s.opts.Callbacks.OnUserTranscript(e.Event.Text)
	}
}

func (s *Session) handleDisconnected(e wire.Disconnected) {
	if s.sm.State() == StateClosing || s.sm.State() == StateIdle {
		// Client-initiated teardown already ran.
		return
	}
	s.shutdown()
	if e.Err != nil {
		_ = s.sm.Transition(StateErrored, e.Reason)
		s.reportError(errorsx.Wrap(e.Err, errorsx.ReasonTransportClosed))
	} else {
		_ = s.sm.Transition(StateIdle, e.Reason)
	}
	s.record("session_closed", sinceMS(s.connectedAt),
		map[string]string{"reason": e.Reason})
}

// shutdown releases session resources exactly once, in dependency order:
// capture first so no frame is produced for a dead socket, playback second,
// the socket last.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.cap.Stop()
		s.mu.Lock()
		player := s.player
		s.player = nil
		s.mu.Unlock()
		if player != nil {
			player.Stop()
		}
		_ = s.transport.Close()
		s.dispatcher.Close()
	})
}

// sendFrame ships one capture frame upstream. Frames produced outside the
// ESTABLISHED window are released unsent.
func (s *Session) sendFrame(f frames.AudioFrame) {
	defer frames.ReleaseAudioFrame(f)
	if s.sm.State() != StateEstablished {
		return
	}
	chunk := wire.UserAudioChunk{
		AudioBase64: base64.StdEncoding.EncodeToString(f.RawPayload()),
	}
	if err := s.transport.Send(chunk); err != nil {
		s.log.Debug("session_frame_send_failed", "error", err.Error())
	}
}

func (s *Session) respondTool(res tools.Result) {
	msg := wire.ClientToolResult{ToolCallID: res.ToolCallID}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	} else {
		msg.Result = res.Value
	}
	_ = s.transport.Send(msg)
}

func (s *Session) newPlayer() *playback.Player {
	var sink playback.Sink
	if s.opts.NewSink != nil {
		var err error
		sink, err = s.opts.NewSink()
		if err != nil {
			s.log.Warn("session_sink_open_failed", "error", err.Error())
			sink = nil
		}
	}
	return playback.NewPlayer(sink, s.opts.PlaybackQueueDepth)
}

func (s *Session) setSpeaking(speaking bool) {
	s.mu.Lock()
	changed := s.speaking != speaking
	s.speaking = speaking
	s.mu.Unlock()
	if changed && s.opts.Callbacks.OnModeChange != nil {
		mode := ModeListening
		if speaking {
			mode = ModeSpeaking
		}
		s.opts.Callbacks.OnModeChange(mode)
	}
}

func (s *Session) onStateChange(change StateChange) {
	s.log.Info("session_state_changed",
		"from", change.FromState.String(),
		"to", change.ToState.String(),
		"reason", change.Reason)
	s.record("state_change", 0, map[string]string{
		"from": change.FromState.String(),
		"to":   change.ToState.String(),
	})
	if s.opts.Callbacks.OnStateChange != nil {
		s.opts.Callbacks.OnStateChange(change)
	}
}

func (s *Session) reportError(err error) {
	s.log.Error("session_error",
		"reason_code", string(errorsx.Reason(err)),
		"error", err.Error())
	s.record("session_error", 0, map[string]string{
		"reason_code": string(errorsx.Reason(err)),
	})
	if s.opts.Callbacks.OnError != nil {
		s.opts.Callbacks.OnError(err)
	}
}

func (s *Session) record(name string, value float64, tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	tags["trace_id"] = s.traceID
	s.obs.RecordEvent(metrics.Event{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  tags,
	})
}

type stateListenerFunc func(StateChange)

func (f stateListenerFunc) OnStateChange(change StateChange) { f(change) }

func sinceMS(t time.Time) float64 {
	return float64(time.Since(t).Milliseconds())
}
