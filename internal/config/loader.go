package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvStreamURL   = "TUTORVOX_STREAM_URL"
	EnvStreamToken = "TUTORVOX_STREAM_TOKEN"
	EnvChatURL     = "TUTORVOX_CHAT_URL"
	EnvTTSURL      = "TUTORVOX_TTS_URL"
	EnvLogLevel    = "TUTORVOX_LOG_LEVEL"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// the result. Environment overrides are not applied.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with the TUTORVOX_* variables lookup reports.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvStreamURL, &cfg.Endpoints.Stream)
	set(EnvStreamToken, &cfg.Stream.Token)
	set(EnvChatURL, &cfg.Endpoints.Chat)
	set(EnvTTSURL, &cfg.Endpoints.TTS)
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = LogLevel(strings.ToLower(v))
	}
}

// parse decodes data, applies overrides from lookup and validates.
func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, lookup)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	// Endpoints
	if err := checkURL(cfg.Endpoints.Stream, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("endpoints.stream: %w", err))
	}
	if err := checkURL(cfg.Endpoints.Chat, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("endpoints.chat: %w", err))
	}
	if err := checkURL(cfg.Endpoints.TTS, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("endpoints.tts: %w", err))
	}

	// Stream
	if cfg.Stream.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("stream.reconnect_delay must be positive, got %s", cfg.Stream.ReconnectDelay))
	}

	// Chat
	if cfg.Chat.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("chat.timeout must be positive, got %s", cfg.Chat.Timeout))
	}

	// Speech
	if !cfg.Speech.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("speech.backend %q is invalid; valid values: primary, fallback", cfg.Speech.Backend))
	}
	if !cfg.Speech.Delivery.IsValid() {
		errs = append(errs, fmt.Errorf("speech.delivery %q is invalid; valid values: streaming, url", cfg.Speech.Delivery))
	}
	if cfg.Speech.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("speech.circuit_breaker.max_failures must not be negative, got %d", cfg.Speech.CircuitBreaker.MaxFailures))
	}
	if cfg.Speech.CircuitBreaker.MaxFailures > 0 && cfg.Speech.CircuitBreaker.ResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("speech.circuit_breaker.reset_timeout must be positive, got %s", cfg.Speech.CircuitBreaker.ResetTimeout))
	}
	if cfg.Speech.Local.Command == "" {
		errs = append(errs, errors.New("speech.local.command is required"))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_size must be positive, got %d", cfg.Audio.BufferSize))
	}
	if cfg.Audio.DeviceRate < 0 {
		errs = append(errs, fmt.Errorf("audio.device_rate must not be negative, got %d", cfg.Audio.DeviceRate))
	}
	if len(cfg.Audio.CaptureCommand) == 0 {
		errs = append(errs, errors.New("audio.capture_command is required"))
	}
	if len(cfg.Audio.PlayerCommand) == 0 {
		errs = append(errs, errors.New("audio.player_command is required"))
	}

	// Health
	if cfg.Health.Interval <= 0 {
		errs = append(errs, fmt.Errorf("health.interval must be positive, got %s", cfg.Health.Interval))
	}
	if cfg.Health.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("health.timeout must be positive, got %s", cfg.Health.Timeout))
	}

	return errors.Join(errs...)
}

// checkURL requires raw to be an absolute URL with one of schemes and a host.
func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%q must use scheme %s", raw, strings.Join(schemes, " or "))
}
