// Package playback owns the output device: a FIFO of PCM chunks played
// back-to-back by one serializing goroutine, with a hard stop used on
// interruption.
package playback

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/amira/pkg/errorsx"
	"github.com/harunnryd/amira/pkg/frames"
)

// ErrStopped is returned by Enqueue after Stop. A stopped player is
// poisoned on purpose: the conversation layer installs a fresh player after
// every interruption so stale in-flight audio can never race new audio.
var ErrStopped = errorsx.New("player stopped", errorsx.ReasonPlaybackStopped)

// Sink accepts normalized samples in [-1.0, 1.0) for the output device.
type Sink interface {
	WriteSamples(samples []float32) error
	Close() error
}

type Player struct {
	sink Sink
	log  *slog.Logger

	ch      chan frames.AudioFrame
	quit    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

func NewPlayer(sink Sink, queueDepth int) *Player {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	p := &Player{
		sink: sink,
		log:  slog.Default().With(slog.String("component", "playback")),
		ch:   make(chan frames.AudioFrame, queueDepth),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.loop()
	return p
}

// Enqueue appends a chunk to the FIFO. Playback begins immediately when the
// queue is idle; otherwise the chunk plays after everything enqueued before
// it, with no gap or overlap introduced by the queue itself.
func (p *Player) Enqueue(f frames.AudioFrame) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	select {
	case p.ch <- f:
		return nil
	case <-p.quit:
		return ErrStopped
	}
}

// Stop halts playback and discards every queued-but-unplayed chunk. This is
// the interruption path. Idempotent; after Stop the player must be replaced.
func (p *Player) Stop() {
	p.once.Do(func() {
		p.stopped.Store(true)
		close(p.quit)
		<-p.done
		discarded := 0
	drain:
		for {
			select {
			case f := <-p.ch:
				frames.ReleaseAudioFrame(f)
				discarded++
			default:
				break drain
			}
		}
		if discarded > 0 {
			p.log.Info("playback_flushed", "discarded_chunks", discarded)
		}
		if p.sink != nil {
			_ = p.sink.Close()
		}
	})
}

func (p *Player) Stopped() bool { return p.stopped.Load() }

func (p *Player) loop() {
	defer close(p.done)
	for {
		// Quit wins over queued audio so an interruption never plays one
		// more chunk than it has to.
		select {
		case <-p.quit:
			return
		default:
		}
		select {
		case <-p.quit:
			return
		case f := <-p.ch:
			p.play(f)
		}
	}
}

func (p *Player) play(f frames.AudioFrame) {
	defer frames.ReleaseAudioFrame(f)
	samples, err := DecodePCM16(f.RawPayload())
	if err != nil {
		// A malformed chunk must not abort the queue.
		p.log.Warn("playback_decode_error",
			"reason_code", string(errorsx.Reason(err)),
			"size_bytes", len(f.RawPayload()))
		return
	}
	if p.sink == nil {
		return
	}
	if err := p.sink.WriteSamples(samples); err != nil {
		p.log.Warn("playback_sink_error", "error", err.Error())
	}
}

// DecodePCM16 converts little-endian signed 16-bit samples to the
// normalized float range [-1.0, 1.0).
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, errorsx.New("odd pcm16 payload length", errorsx.ReasonAudioDecode)
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}
