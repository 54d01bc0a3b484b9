// Package config provides the configuration schema and loader for the
// tutorvox client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SpeechBackend selects which synthesizer speaks replies.
type SpeechBackend string

const (
	// BackendPrimary tries the remote synthesis service first and falls back
	// to the local synthesizer once per utterance.
	BackendPrimary SpeechBackend = "primary"

	// BackendFallback uses only the local synthesizer.
	BackendFallback SpeechBackend = "fallback"
)

// IsValid reports whether b is a recognised backend.
func (b SpeechBackend) IsValid() bool {
	return b == BackendPrimary || b == BackendFallback
}

// Delivery selects how the remote synthesis service returns audio.
type Delivery string

const (
	// DeliveryStreaming receives audio bytes in the synthesis response.
	DeliveryStreaming Delivery = "streaming"

	// DeliveryURL receives an audio location and fetches it. Only in this mode
	// are tts_complete events acted on.
	DeliveryURL Delivery = "url"
)

// IsValid reports whether d is a recognised delivery mode.
func (d Delivery) IsValid() bool {
	return d == DeliveryStreaming || d == DeliveryURL
}

// DefaultToken is the shared secret the tutor's streaming host accepts out of
// the box. It is a client-side credential and offers no real protection.
const DefaultToken = "my_secure_token"

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Stream    StreamConfig    `yaml:"stream"`
	Chat      ChatConfig      `yaml:"chat"`
	Speech    SpeechConfig    `yaml:"speech"`
	Audio     AudioConfig     `yaml:"audio"`
	Health    HealthConfig    `yaml:"health"`
	Debug     DebugConfig     `yaml:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level LogLevel `yaml:"level"`
}

// EndpointsConfig names the three upstream hosts.
type EndpointsConfig struct {
	// Stream is the speech recognition host, as a ws:// or wss:// base URL.
	// The session path /ws/{session_id} is appended.
	Stream string `yaml:"stream"`

	// Chat is the orchestrator REST base URL.
	Chat string `yaml:"chat"`

	// TTS is the synthesis service base URL.
	TTS string `yaml:"tts"`
}

// StreamConfig configures the streaming connection.
type StreamConfig struct {
	// Token is sent as the token query parameter.
	Token string `yaml:"token"`

	// ReconnectDelay is the fixed wait before every reconnect attempt.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// ChatConfig configures the orchestrator client.
type ChatConfig struct {
	// Timeout bounds one chat turn.
	Timeout time.Duration `yaml:"timeout"`
}

// SpeechConfig configures speech output.
type SpeechConfig struct {
	Backend        SpeechBackend        `yaml:"backend"`
	Delivery       Delivery             `yaml:"delivery"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Local          LocalSpeechConfig    `yaml:"local"`
}

// CircuitBreakerConfig guards the remote synthesis backend.
type CircuitBreakerConfig struct {
	// MaxFailures opens the breaker after this many consecutive failures.
	// Zero disables the breaker so the primary is always tried first.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// LocalSpeechConfig configures the local synthesizer.
type LocalSpeechConfig struct {
	// Command is the synthesizer binary.
	Command string `yaml:"command"`

	// Voice is the voice identifier. Empty prefers the first English voice.
	Voice string `yaml:"voice"`
}

// AudioConfig configures capture and playback.
type AudioConfig struct {
	// SampleRate is the wire sample rate.
	SampleRate int `yaml:"sample_rate"`

	// BufferSize is the number of samples per captured block.
	BufferSize int `yaml:"buffer_size"`

	// DeviceRate is the rate the capture device is opened at. Captured audio
	// is resampled to SampleRate when they differ.
	DeviceRate int `yaml:"device_rate"`

	// CaptureCommand records raw float32 little-endian samples to stdout.
	// {rate}, {channels} and {buffer} are substituted.
	CaptureCommand []string `yaml:"capture_command"`

	// PlayerCommand reads an audio payload from stdin and plays it.
	PlayerCommand []string `yaml:"player_command"`
}

// HealthConfig configures upstream health polling.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DebugConfig configures the local probe server.
type DebugConfig struct {
	// ListenAddr serves /healthz, /readyz and /metrics when set.
	ListenAddr string `yaml:"listen_addr"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: LogInfo},
		Endpoints: EndpointsConfig{
			Stream: "ws://localhost:8000",
			Chat:   "http://localhost:8001",
			TTS:    "http://localhost:8002",
		},
		Stream: StreamConfig{
			Token:          DefaultToken,
			ReconnectDelay: 5 * time.Second,
		},
		Chat: ChatConfig{Timeout: 30 * time.Second},
		Speech: SpeechConfig{
			Backend:  BackendPrimary,
			Delivery: DeliveryStreaming,
			CircuitBreaker: CircuitBreakerConfig{
				ResetTimeout: 30 * time.Second,
			},
			Local: LocalSpeechConfig{Command: "espeak-ng"},
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			BufferSize:     4096,
			DeviceRate:     16000,
			CaptureCommand: []string{"arecord", "-q", "-t", "raw", "-f", "FLOAT_LE", "-c", "{channels}", "-r", "{rate}"},
			PlayerCommand:  []string{"aplay", "-q", "-"},
		},
		Health: HealthConfig{
			Interval: 10 * time.Second,
			Timeout:  5 * time.Second,
		},
	}
}
