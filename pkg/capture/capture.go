// Package capture owns the microphone input: it opens a PCM source, slices
// the stream into fixed-size frames, and delivers them to a callback in
// capture order.
package capture

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/amira/pkg/errorsx"
	"github.com/harunnryd/amira/pkg/frames"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1

	// FrameBytes is 20ms of PCM16LE at 16kHz mono.
	FrameBytes = DefaultSampleRate * 2 / 50
)

// Constraints mirror the device constraints requested from the platform.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       DefaultSampleRate,
		Channels:         DefaultChannels,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Source is an open input device delivering a continuous PCM16LE stream.
type Source interface {
	io.Reader
	Close() error
}

// OpenFunc requests device access. Implementations classify failure as
// ReasonMicPermissionDenied or ReasonMicUnavailable so the session can
// surface the right message.
type OpenFunc func(ctx context.Context, c Constraints) (Source, error)

// FrameFunc receives one fixed-size frame per processed audio block,
// in capture order, with no batching.
type FrameFunc func(f frames.AudioFrame)

type Capture struct {
	open        OpenFunc
	constraints Constraints
	onFrame     FrameFunc
	log         *slog.Logger

	mu     sync.Mutex
	src    Source
	cancel context.CancelFunc
	done   chan struct{}

	active atomic.Bool
	muted  atomic.Bool

	pts *frames.PTSGen
}

func New(open OpenFunc, constraints Constraints, onFrame FrameFunc) *Capture {
	if constraints.SampleRate <= 0 {
		constraints = DefaultConstraints()
	}
	return &Capture{
		open:        open,
		constraints: constraints,
		onFrame:     onFrame,
		log:         slog.Default().With(slog.String("component", "capture")),
		pts:         frames.NewPTSGen(),
	}
}

// Start requests device access and begins frame delivery. Calling Start
// while already active is a no-op. On failure no partial state remains.
func (c *Capture) Start(ctx context.Context) error {
	if !c.active.CompareAndSwap(false, true) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	src, err := c.open(ctx, c.constraints)
	if err != nil {
		c.active.Store(false)
		reason := errorsx.Reason(err)
		if reason != errorsx.ReasonMicPermissionDenied && reason != errorsx.ReasonMicUnavailable {
			err = errorsx.Wrap(err, errorsx.ReasonMicUnavailable)
		}
		c.log.Error("capture_open_failed",
			"reason_code", string(errorsx.Reason(err)),
			"error", err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.src = src
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Info("capture_started",
		"sample_rate", c.constraints.SampleRate,
		"channels", c.constraints.Channels)

	go c.readLoop(runCtx, src, done)
	return nil
}

// Stop releases the device. Safe to call from any state, any number of
// times, including before Start.
func (c *Capture) Stop() {
	if !c.active.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	src := c.src
	done := c.done
	c.cancel = nil
	c.src = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		_ = src.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
			c.log.Warn("capture_stop_timeout")
		}
	}
	c.log.Info("capture_stopped")
}

// SetMuted withholds frames from the callback without releasing the device,
// so the platform's recording indicator stays on and no re-permission
// prompt fires on unmute. Only frames read strictly while muted are
// suppressed.
func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
}

func (c *Capture) Muted() bool { return c.muted.Load() }

func (c *Capture) Active() bool { return c.active.Load() }

func (c *Capture) readLoop(ctx context.Context, src Source, done chan struct{}) {
	defer close(done)
	buf := make([]byte, FrameBytes)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(src, buf); err != nil {
			if ctx.Err() == nil && err != io.EOF {
				c.log.Warn("capture_read_error", "error", err.Error())
			}
			return
		}
		if c.muted.Load() {
			continue
		}
		pts := c.pts.Next("mic")
		f := frames.NewAudioFrameFromPool("", pts, buf,
			c.constraints.SampleRate, c.constraints.Channels,
			map[string]string{frames.MetaSource: "capture"})
		if c.onFrame != nil {
			c.onFrame(f)
		}
	}
}
