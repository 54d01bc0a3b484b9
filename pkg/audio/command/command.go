// Package command provides [audio.CaptureDevice] and [audio.Player]
// implementations backed by external audio helpers such as arecord/aplay
// (ALSA), parec/paplay (PulseAudio) or ffplay.
//
// Capture commands must write raw 32-bit float little-endian interleaved
// samples to stdout. Playback commands must read the payload from stdin. The
// placeholders {rate}, {channels} and {buffer} in capture arguments are
// replaced with the requested stream parameters.
//
// Typical usage:
//
//	dev := command.NewCapture([]string{"arecord", "-q", "-t", "raw", "-f", "FLOAT_LE", "-c", "{channels}", "-r", "{rate}"})
//	stream, err := dev.Open(ctx, audio.CaptureConfig{SampleRate: 16000, Channels: 1, BufferSize: 4096})
package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/tutorvox/pkg/audio"
)

// bufferDepth is the number of captured blocks that may queue before the
// reader blocks on a slow consumer.
const bufferDepth = 8

// ─── Capture ─────────────────────────────────────────────────────────────────

// Capture implements [audio.CaptureDevice] by spawning a recording command.
type Capture struct {
	argv     []string
	lookPath func(string) (string, error)
}

// NewCapture returns a Capture that runs argv for every listen cycle.
func NewCapture(argv []string) *Capture {
	return &Capture{argv: argv, lookPath: exec.LookPath}
}

// Open implements [audio.CaptureDevice].
func (c *Capture) Open(_ context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	if len(c.argv) == 0 {
		return nil, fmt.Errorf("%w: no capture command configured", audio.ErrDeviceUnavailable)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = audio.DefaultBufferSize
	}
	bin, err := c.lookPath(c.argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	// The process must outlive Open's ctx, so it gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, bin, expand(c.argv[1:], cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("command: capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	s := &captureStream{
		cmd:    cmd,
		cancel: cancel,
		ch:     make(chan []float32, bufferDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop(stdout, cfg.BufferSize*cfg.Channels)
	return s, nil
}

// expand substitutes stream parameters into capture arguments.
func expand(args []string, cfg audio.CaptureConfig) []string {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(cfg.SampleRate),
		"{channels}", strconv.Itoa(cfg.Channels),
		"{buffer}", strconv.Itoa(cfg.BufferSize),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// captureStream implements [audio.CaptureStream] over a running command.
type captureStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	ch     chan []float32
	stop   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closing   bool
	closeOnce sync.Once
}

func (s *captureStream) Buffers() <-chan []float32 { return s.ch }

func (s *captureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close kills the recorder and waits for the reader to exit.
func (s *captureStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.stop)
		s.cancel()
		<-s.done
	})
	return nil
}

// readLoop decodes fixed-size float blocks from r until EOF or error.
func (s *captureStream) readLoop(r io.Reader, samplesPerBlock int) {
	defer close(s.done)
	defer close(s.ch)

	br := bufio.NewReaderSize(r, samplesPerBlock*4)
	raw := make([]byte, samplesPerBlock*4)
	for {
		if _, err := io.ReadFull(br, raw); err != nil {
			waitErr := s.cmd.Wait()
			s.mu.Lock()
			if !s.closing {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					err = waitErr
				}
				if err != nil {
					s.err = fmt.Errorf("command: capture: %w", err)
				}
			}
			s.mu.Unlock()
			return
		}
		block := make([]float32, samplesPerBlock)
		for i := range block {
			block[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		select {
		case s.ch <- block:
		case <-s.stop:
			_ = s.cmd.Wait()
			return
		}
	}
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player implements [audio.Player] by piping the payload into a playback
// command. Each Play call spawns a fresh process, so cancelling one playback
// never affects another.
type Player struct {
	argv     []string
	lookPath func(string) (string, error)
}

// NewPlayer returns a Player that runs argv for each payload.
func NewPlayer(argv []string) *Player {
	return &Player{argv: argv, lookPath: exec.LookPath}
}

// Play implements [audio.Player]. Cancelling ctx kills the process.
func (p *Player) Play(ctx context.Context, payload []byte) error {
	if len(p.argv) == 0 {
		return errors.New("command: no player command configured")
	}
	bin, err := p.lookPath(p.argv[0])
	if err != nil {
		return fmt.Errorf("command: player: %w", err)
	}
	cmd := exec.CommandContext(ctx, bin, p.argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("command: playback: %w: %s", err, msg)
		}
		return fmt.Errorf("command: playback: %w", err)
	}
	return nil
}

var (
	_ audio.CaptureDevice = (*Capture)(nil)
	_ audio.Player        = (*Player)(nil)
)
