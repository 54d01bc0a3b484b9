package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] looks at the file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and reports what changed between the running
// config and each valid new version of the file. Invalid edits are logged and
// ignored; the running config stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   func(string) (string, bool)
	onChange func(ConfigDiff, *Config)

	mu      sync.Mutex
	current *Config
	raw     []byte
	modTime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookup sets the environment lookup used for overrides on reload.
// Defaults to [os.LookupEnv].
func WithLookup(fn func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = fn }
}

// NewWatcher loads path and returns a watcher that calls onChange with the
// difference and the new config whenever a reload changes something. Polling
// starts with [Watcher.Run].
func NewWatcher(path string, onChange func(ConfigDiff, *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		lookup:   os.LookupEnv,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	raw, mod, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := parse(raw, w.lookup)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.raw, w.modTime = cfg, raw, mod
	return w, nil
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Reload()
		}
	}
}

// Reload checks the file once. It reports whether a new config took effect.
func (w *Watcher) Reload() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watched file unavailable", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	same := info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if same {
		return false
	}

	raw, mod, err := w.read()
	if err != nil {
		slog.Warn("config: read watched file", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	w.modTime = mod
	if bytes.Equal(raw, w.raw) {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	cfg, err := parse(raw, w.lookup)
	if err != nil {
		slog.Warn("config: ignoring invalid edit", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	old := w.current
	w.current, w.raw = cfg, raw
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Changed() {
		return true
	}
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"backend_changed", d.BackendChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
	return true
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return raw, info.ModTime(), nil
}
