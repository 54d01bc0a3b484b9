// Package audio defines the microphone capture and speaker playback
// abstractions used by TutorVox, plus the PCM encoder that turns captured
// samples into wire frames.
//
// The two device abstractions are:
//
//   - [CaptureDevice]: opens the microphone and returns a [CaptureStream]
//     delivering fixed-size blocks of float samples.
//   - [Player]: renders an encoded audio payload (WAV) and blocks until
//     playback finishes or is cancelled.
//
// Implementations live in sibling packages (audio/command for command-backed
// devices, audio/mock for tests). This package lives under pkg/ because
// external code is expected to provide its own device adapters.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned by [CaptureDevice.Open] when the microphone
// cannot be acquired (permission denied, no device, missing helper binary).
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// CaptureConfig describes the stream a [CaptureDevice] should open.
type CaptureConfig struct {
	// SampleRate is the device sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels delivered by the device.
	Channels int

	// BufferSize is the number of frames per delivered block. Blocks carry
	// BufferSize*Channels samples.
	BufferSize int
}

// CaptureStream is an open microphone. It is exclusively owned by the listen
// cycle that opened it.
//
// Implementations must be safe for concurrent use.
type CaptureStream interface {
	// Buffers returns the channel of captured sample blocks in device order.
	// The channel is closed when the stream ends, either through Close or
	// because the device failed; Err reports the latter.
	Buffers() <-chan []float32

	// Err returns the error that terminated the stream, or nil.
	Err() error

	// Close stops the device and releases every resource it holds. It is safe
	// to call Close more than once; subsequent calls return nil.
	Close() error
}

// CaptureDevice is the entry point for acquiring the microphone.
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// Open acquires the microphone and starts delivering buffers. The supplied
	// ctx governs the acquisition only; the returned stream lives until Close.
	// Errors wrap [ErrDeviceUnavailable] when the device cannot be acquired.
	Open(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)
}

// Player renders synthesised audio through the local output device.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play renders payload (a complete WAV or other container the player
	// understands) and blocks until playback completes. Cancelling ctx stops
	// playback immediately, discards the remaining audio and returns
	// ctx.Err(). Errors that occur after playback has begun are returned as
	// well; callers treat them like a synthesis failure.
	Play(ctx context.Context, payload []byte) error
}
