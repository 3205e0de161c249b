package amira

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/amira/pkg/aggregators"
	"github.com/harunnryd/amira/pkg/bridge"
	"github.com/harunnryd/amira/pkg/capture"
	"github.com/harunnryd/amira/pkg/configutil"
	"github.com/harunnryd/amira/pkg/convo"
	"github.com/harunnryd/amira/pkg/logging"
	"github.com/harunnryd/amira/pkg/metrics"
	"github.com/harunnryd/amira/pkg/playback"
	"github.com/harunnryd/amira/pkg/redact"
	"github.com/harunnryd/amira/pkg/store"
	"github.com/harunnryd/amira/pkg/tools"
	"github.com/harunnryd/amira/pkg/transports"
	"github.com/harunnryd/amira/pkg/transports/agent"
)

// DefaultWidgetID keys the single bridge slot shared by every host surface
// in the process.
const DefaultWidgetID = "amira-widget"

// WidgetOptions wire the platform-specific pieces into the facade. Only
// OpenSource and NewSink are mandatory for audio; everything else has a
// sensible default.
type WidgetOptions struct {
	Config       Config
	WidgetID     string
	Hub          *bridge.Hub
	OpenSource   capture.OpenFunc
	NewSink      func() (playback.Sink, error)
	Tools        *tools.Registry
	Callbacks    convo.Callbacks
	Observer     metrics.Observer
	NewTransport func(cfg agent.Config) transports.Transport
}

// Widget is the embeddable facade. It owns the bridge slot, the persisted
// stores, and at most one live session at a time; host surfaces only ever
// see state strings, transcript text, and error strings.
type Widget struct {
	cfg      Config
	log      *slog.Logger
	slot     *bridge.Slot
	cfgStore *store.ConfigStore
	stStore  *store.StateStore
	registry *tools.Registry
	obs      metrics.Observer
	asyncObs *metrics.AsyncObserver

	openSource   capture.OpenFunc
	newSink      func() (playback.Sink, error)
	newTransport func(cfg agent.Config) transports.Transport
	callbacks    convo.Callbacks

	mu       sync.Mutex
	session  *convo.Session
	expanded bool
}

func NewWidget(opts WidgetOptions) (*Widget, error) {
	cfg := opts.Config
	logging.SetDefaultLevel(cfg.LogLevel)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	if opts.WidgetID == "" {
		opts.WidgetID = DefaultWidgetID
	}
	if opts.Hub == nil {
		opts.Hub = bridge.NewHub()
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry()
	}
	if opts.NewTransport == nil {
		opts.NewTransport = func(cfg agent.Config) transports.Transport {
			return agent.New(cfg)
		}
	}

	w := &Widget{
		cfg:          cfg,
		log:          slog.Default().With(slog.String("component", "widget")),
		cfgStore:     store.NewConfigStore(cfg.Store.ConfigPath),
		stStore:      store.NewStateStore(cfg.Store.StatePath),
		registry:     opts.Tools,
		openSource:   opts.OpenSource,
		newSink:      opts.NewSink,
		newTransport: opts.NewTransport,
		callbacks:    opts.Callbacks,
	}

	if opts.Observer != nil {
		w.obs = opts.Observer
	} else {
		var inner metrics.Observer = metrics.NoopObserver{}
		if cfg.Metrics.EnableLogger {
			inner = metrics.NewLoggerObserver(slog.Default())
		}
		w.asyncObs = metrics.NewAsyncObserver(inner, cfg.Metrics.Buffer)
		w.obs = w.asyncObs
	}

	persisted, err := w.cfgStore.Load()
	if err != nil {
		return nil, err
	}
	if w.cfg.AgentID == "" {
		w.cfg.AgentID = persisted.AgentID
	}
	st, err := w.stStore.Load()
	if err != nil {
		return nil, err
	}
	w.expanded = st.Expanded

	w.slot, _ = opts.Hub.Attach(opts.WidgetID, nil)
	w.slot.SetDeliver(w.applyConfigure)
	return w, nil
}

// Ready marks the widget booted; any configure buffered by the bridge is
// applied now.
func (w *Widget) Ready() {
	w.slot.Ready()
	w.publishState()
}

// Slot exposes the bridge slot so host surfaces can attach and configure.
func (w *Widget) Slot() *bridge.Slot { return w.slot }

// Configure submits host options through the bridge; before Ready they are
// buffered with last-call-wins semantics.
func (w *Widget) Configure(opts map[string]any) {
	w.slot.Configure(opts)
}

type widgetSettings struct {
	AgentID   string `mapstructure:"agent_id"`
	Variant   string `mapstructure:"variant"`
	AvatarURL string `mapstructure:"avatar_url"`
}

func (w *Widget) applyConfigure(opts map[string]any) {
	schema := configutil.Schema{
		Optional: []string{"agent_id", "variant", "avatar_url"},
	}
	if err := configutil.ValidateSettings(opts, schema); err != nil {
		w.log.Warn("widget_configure_rejected", "error", err.Error())
		return
	}
	var s widgetSettings
	if err := configutil.DecodeSettings(opts, &s); err != nil {
		w.log.Warn("widget_configure_decode_failed", "error", err.Error())
		return
	}

	w.mu.Lock()
	if s.AgentID != "" {
		w.cfg.AgentID = s.AgentID
	}
	agentID := w.cfg.AgentID
	w.mu.Unlock()

	if err := w.cfgStore.Save(store.PersistedConfig{
		AgentID:   agentID,
		Variant:   s.Variant,
		AvatarURL: s.AvatarURL,
	}); err != nil {
		w.log.Warn("widget_configure_persist_failed", "error", err.Error())
	}
	w.log.Info("widget_configured", "agent_id", agentID)
}

// StartCall opens a new session. A call already in progress is left alone.
func (w *Widget) StartCall(ctx context.Context) error {
	w.mu.Lock()
	if w.session != nil {
		switch w.session.State() {
		case convo.StateConnecting, convo.StateEstablished, convo.StateClosing:
			w.mu.Unlock()
			w.log.Debug("widget_call_already_active")
			return nil
		}
	}
	agentID := w.cfg.AgentID
	session := convo.NewSession(convo.Options{
		AgentID:    agentID,
		Transport:  w.newTransport(w.cfg.Transport),
		OpenSource: w.openSource,
		Constraints: capture.Constraints{
			SampleRate:       w.cfg.Audio.SampleRate,
			Channels:         w.cfg.Audio.Channels,
			EchoCancellation: w.cfg.Audio.EchoCancellation,
			NoiseSuppression: w.cfg.Audio.NoiseSuppression,
			AutoGainControl:  w.cfg.Audio.AutoGainControl,
		},
		NewSink:            w.newSink,
		PlaybackQueueDepth: w.cfg.Audio.PlaybackQueue,
		Tools:              w.registry,
		ToolOptions: tools.DispatcherOptions{
			Concurrency: w.cfg.Tools.Concurrency,
			Timeout:     time.Duration(w.cfg.Tools.TimeoutMS) * time.Millisecond,
			Retries:     w.cfg.Tools.Retries,
			Backoff:     time.Duration(w.cfg.Tools.RetryBackoffMS) * time.Millisecond,
		},
		Transcript: aggregators.TranscriptConfig{MaxHistory: w.cfg.Transcript.MaxHistory},
		Callbacks:  w.sessionCallbacks(),
		Observer:   w.obs,
	})
	w.session = session
	w.mu.Unlock()

	return session.Connect(ctx)
}

// EndCall tears down the live session. Safe with no call in progress.
func (w *Widget) EndCall() {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session != nil {
		session.Disconnect()
	}
	w.publishState()
}

func (w *Widget) SetMuted(muted bool) {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session != nil {
		session.SetMuted(muted)
	}
}

func (w *Widget) Muted() bool {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		return false
	}
	return session.Muted()
}

// SendContext injects out-of-band text into the live conversation.
func (w *Widget) SendContext(text string) error {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.SendContextualUpdate(text)
}

// State reports the session state as a plain string for the host layer.
func (w *Widget) State() string {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		return convo.StateIdle.String()
	}
	return session.State().String()
}

func (w *Widget) ConversationID() string {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		return ""
	}
	return session.ConversationID()
}

// History returns the finalized transcript of the current or last session.
func (w *Widget) History() []aggregators.Entry {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Transcript().History()
}

// SetExpanded persists the cosmetic expand/collapse state and fans it out.
func (w *Widget) SetExpanded(expanded bool) {
	w.mu.Lock()
	w.expanded = expanded
	convID := ""
	if w.session != nil {
		convID = w.session.ConversationID()
	}
	w.mu.Unlock()

	if err := w.stStore.Save(store.WidgetState{
		Expanded:           expanded,
		LastConversationID: convID,
	}); err != nil {
		w.log.Warn("widget_state_persist_failed", "error", err.Error())
	}
	w.publishState()
}

func (w *Widget) Expanded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expanded
}

// Drain ends any live call; the lifecycle runner calls this on shutdown.
func (w *Widget) Drain() error {
	w.EndCall()
	return nil
}

// Close releases the widget after Drain.
func (w *Widget) Close() {
	w.EndCall()
	if w.asyncObs != nil {
		w.asyncObs.Close()
	}
}

func (w *Widget) sessionCallbacks() convo.Callbacks {
	host := w.callbacks
	return convo.Callbacks{
		OnStateChange: func(change convo.StateChange) {
			w.publishState()
			if host.OnStateChange != nil {
				host.OnStateChange(change)
			}
		},
		OnModeChange:              host.OnModeChange,
		OnUserTranscript:          host.OnUserTranscript,
		OnAgentResponse:           host.OnAgentResponse,
		OnAgentResponseCorrection: host.OnAgentResponseCorrection,
		OnError:                   host.OnError,
	}
}

func (w *Widget) publishState() {
	w.mu.Lock()
	inProgress := false
	if w.session != nil {
		switch w.session.State() {
		case convo.StateConnecting, convo.StateEstablished, convo.StateClosing:
			inProgress = true
		}
	}
	update := bridge.StateUpdate{
		CallInProgress: inProgress,
		Expanded:       w.expanded,
	}
	w.mu.Unlock()
	w.slot.UpdateState(update)
}
