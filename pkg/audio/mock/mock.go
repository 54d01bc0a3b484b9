// Package mock provides in-memory mock implementations of the
// [audio.CaptureDevice], [audio.CaptureStream] and [audio.Player] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(4)
//	dev := &mock.CaptureDevice{OpenResult: stream}
//	s, _ := dev.Open(ctx, audio.CaptureConfig{SampleRate: 16000, Channels: 1, BufferSize: 4096})
//	stream.Push([]float32{0.1, -0.2})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tutorvox/pkg/audio"
)

// ─── CaptureStream ───────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.CaptureStream]. Feed buffers with
// [Stream.Push]; end the stream from the device side with [Stream.Fail].
type Stream struct {
	mu     sync.Mutex
	ch     chan []float32
	closed bool
	err    error

	// CloseError is returned by the first Close call.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns a Stream whose buffer channel holds up to depth blocks.
func NewStream(depth int) *Stream {
	return &Stream{ch: make(chan []float32, depth)}
}

// Buffers implements [audio.CaptureStream].
func (s *Stream) Buffers() <-chan []float32 { return s.ch }

// Err implements [audio.CaptureStream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.CaptureStream]. Closes the buffer channel once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return s.CloseError
}

// Push delivers buf as if the device had captured it. Reports false when the
// stream is already closed.
func (s *Stream) Push(buf []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- buf
	return true
}

// Fail terminates the stream from the device side with err.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.ch)
}

// Closed reports whether Close or Fail has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── CaptureDevice ───────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil, a fresh Stream with depth 16
	// is created per call.
	OpenResult audio.CaptureStream

	// OpenError is returned by Open instead of a stream.
	OpenError error

	// OpenCalls records the config of every Open invocation.
	OpenCalls []audio.CaptureConfig

	// Streams records every stream handed out by Open, in order.
	Streams []audio.CaptureStream
}

// Open implements [audio.CaptureDevice].
func (d *CaptureDevice) Open(_ context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, cfg)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := d.OpenResult
	if s == nil {
		s = NewStream(16)
	}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// OpenCount returns the number of Open calls so far.
func (d *CaptureDevice) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayError is returned by Play when playback is not cancelled.
	PlayError error

	// Block makes Play wait until ctx is cancelled or Release is closed.
	Block bool

	// Release, when non-nil and Block is set, ends a blocked Play with
	// PlayError once closed.
	Release chan struct{}

	// Started receives a value each time Play begins, if non-nil.
	Started chan []byte

	// PlayCalls records the payload of every Play invocation.
	PlayCalls [][]byte
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, append([]byte(nil), payload...))
	block, release, started, playErr := p.Block, p.Release, p.Started, p.PlayError
	p.mu.Unlock()

	if started != nil {
		started <- payload
	}
	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return playErr
}

// Calls returns a copy of the recorded payloads.
func (p *Player) Calls() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.PlayCalls))
	copy(out, p.PlayCalls)
	return out
}

var (
	_ audio.CaptureStream = (*Stream)(nil)
	_ audio.CaptureDevice = (*CaptureDevice)(nil)
	_ audio.Player        = (*Player)(nil)
)
