// Package capture runs listen cycles: it owns the microphone for the
// duration of one cycle and pumps encoded frames to the streaming
// connection.
//
// A [Cycle] is a scoped acquisition handle. [Start] acquires the device and
// [Cycle.Close] stops it and releases every resource on every exit path.
// [Listener] enforces that a new cycle only starts after the previous one has
// been closed and keeps the session's listening flag in step with the device.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/tutorvox/internal/observe"
	"github.com/MrWong99/tutorvox/pkg/audio"
)

// FrameSender receives encoded frames in capture order.
type FrameSender interface {
	SendAudioFrame(ctx context.Context, frame []byte) error
}

// Config describes the device stream and the wire format.
type Config struct {
	// DeviceRate is the rate the device is opened at. Zero means SampleRate.
	DeviceRate int

	// SampleRate is the wire rate. Zero means [audio.WireSampleRate].
	SampleRate int

	// Channels is the device channel count. Zero means mono.
	Channels int

	// BufferSize is the number of frames per captured block. Zero means
	// [audio.DefaultBufferSize].
	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.WireSampleRate
	}
	if c.DeviceRate <= 0 {
		c.DeviceRate = c.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = audio.DefaultBufferSize
	}
	return c
}

// CycleOption configures a [Cycle].
type CycleOption func(*Cycle)

// WithMetrics tracks the number of open cycles on m.
func WithMetrics(m *observe.Metrics) CycleOption {
	return func(c *Cycle) { c.metrics = m }
}

// WithOnDeviceError registers fn to run when the device ends the stream on
// its own. It is not called after [Cycle.Close].
func WithOnDeviceError(fn func(error)) CycleOption {
	return func(c *Cycle) { c.onDeviceError = fn }
}

// Cycle is one open listen cycle.
type Cycle struct {
	stream        audio.CaptureStream
	resampler     *audio.Resampler
	channels      int
	send          FrameSender
	metrics       *observe.Metrics
	onDeviceError func(error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Start acquires dev and begins streaming frames to send. Acquisition
// failures are returned wrapped in [audio.ErrDeviceUnavailable]; nothing is
// left open in that case.
func Start(ctx context.Context, dev audio.CaptureDevice, cfg Config, send FrameSender, opts ...CycleOption) (*Cycle, error) {
	cfg = cfg.withDefaults()

	rs, err := audio.NewResampler(cfg.DeviceRate, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	stream, err := dev.Open(ctx, audio.CaptureConfig{
		SampleRate: cfg.DeviceRate,
		Channels:   cfg.Channels,
		BufferSize: cfg.BufferSize,
	})
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return nil, fmt.Errorf("capture: open: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Cycle{
		stream:    stream,
		resampler: rs,
		channels:  cfg.Channels,
		send:      send,
		ctx:       pumpCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics != nil {
		c.metrics.ActiveCaptures.Add(ctx, 1)
	}

	go c.pump()
	return c, nil
}

// pump runs the cycle and reports a device failure once the pump has
// exited, so the callback may call Close.
func (c *Cycle) pump() {
	err := c.run()
	close(c.done)
	if err != nil && c.onDeviceError != nil {
		c.onDeviceError(err)
	}
}

// run encodes and forwards every buffer in device order until the stream
// ends. It returns the device error when the stream ended without Close.
func (c *Cycle) run() error {
	for buf := range c.stream.Buffers() {
		if c.ctx.Err() != nil {
			if n := audio.Discard(c.stream); n > 0 {
				slog.Debug("capture: discarded blocks after stop", "blocks", n)
			}
			break
		}
		mono := audio.Downmix(buf, c.channels)
		samples, err := c.resampler.Process(mono)
		if err != nil {
			slog.Warn("capture: dropping block", "error", err)
			continue
		}
		if len(samples) == 0 {
			continue
		}
		if err := c.send.SendAudioFrame(c.ctx, audio.EncodeFloat32(samples)); err != nil {
			slog.Debug("capture: send frame failed", "error", err)
		}
	}

	if c.ctx.Err() != nil {
		return nil
	}
	err := c.stream.Err()
	if err == nil {
		err = errors.New("capture: device stream ended")
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	slog.Warn("capture: device stopped", "error", err)
	return err
}

// Done is closed once the pump has exited, after Close or a device failure.
func (c *Cycle) Done() <-chan struct{} { return c.done }

// Err returns the device error that ended the cycle, or nil.
func (c *Cycle) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the device, waits for the pump to exit and releases the
// device. Blocks still queued when Close is called are discarded. It is safe
// to call Close more than once; subsequent calls return nil.
func (c *Cycle) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.stream.Close()
		<-c.done
		if c.metrics != nil {
			c.metrics.ActiveCaptures.Add(context.Background(), -1)
		}
	})
	if err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}
