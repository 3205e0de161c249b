package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/amira/pkg/frames"
)

type fakeSink struct {
	mu      sync.Mutex
	writes  [][]float32
	closed  bool
	release chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{}
}

func (s *fakeSink) WriteSamples(samples []float32) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float32, len(samples))
	copy(out, samples)
	s.writes = append(s.writes, out)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func pcmFrame(samples ...int16) frames.AudioFrame {
	data := make([]byte, len(samples)*2)
	for i, v := range samples {
		data[i*2] = byte(uint16(v))
		data[i*2+1] = byte(uint16(v) >> 8)
	}
	return frames.NewAudioFrame("", 0, data, 16000, 1, nil)
}

func waitFor(t *testing.T, cond func() bool) {
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

func TestPlaybackOrder(t *testing.T) {
	sink := newFakeSink()
	p := NewPlayer(sink, 8)
	defer p.Stop()

	if err := p.Enqueue(pcmFrame(1)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := p.Enqueue(pcmFrame(2)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	waitFor(t, func() bool { return sink.writeCount() == 2 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.writes[0][0] >= sink.writes[1][0] {
		t.Fatalf("chunks played out of order: %v then %v", sink.writes[0], sink.writes[1])
	}
}

func TestPCM16Normalization(t *testing.T) {
	samples, err := DecodePCM16([]byte{0x00, 0x80, 0xFF, 0x7F, 0x00, 0x00})
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if samples[0] != -1.0 {
		t.Fatalf("expected -1.0 for min sample, got %v", samples[0])
	}
	if samples[1] >= 1.0 || samples[1] < 0.999 {
		t.Fatalf("expected max sample just below 1.0, got %v", samples[1])
	}
	if samples[2] != 0 {
		t.Fatalf("expected 0 for zero sample, got %v", samples[2])
	}
}

func TestMalformedChunkSkipped(t *testing.T) {
	sink := newFakeSink()
	p := NewPlayer(sink, 8)
	defer p.Stop()

	bad := frames.NewAudioFrame("", 0, []byte{0x01}, 16000, 1, nil)
	if err := p.Enqueue(bad); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := p.Enqueue(pcmFrame(3)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	waitFor(t, func() bool { return sink.writeCount() == 1 })
}

func TestStopDiscardsQueueAndPoisons(t *testing.T) {
	sink := newFakeSink()
	sink.release = make(chan struct{})
	p := NewPlayer(sink, 8)

	// First chunk blocks in the sink; the rest stay queued.
	for i := 0; i < 4; i++ {
		if err := p.Enqueue(pcmFrame(int16(i))); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}
	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	waitFor(t, p.Stopped)
	time.Sleep(20 * time.Millisecond)
	close(sink.release)
	<-stopped

	if got := sink.writeCount(); got > 1 {
		t.Fatalf("expected queued chunks discarded, %d played", got)
	}
	if err := p.Enqueue(pcmFrame(9)); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after stop, got %v", err)
	}
	sink.mu.Lock()
	closed := sink.closed
	sink.mu.Unlock()
	if !closed {
		t.Fatalf("expected sink closed on stop")
	}

	// Idempotent.
	p.Stop()
}
