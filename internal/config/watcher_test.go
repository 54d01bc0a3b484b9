package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tutorvox/internal/config"
)

const tutorYAML = `
log:
  level: info
speech:
  backend: primary
`

// noEnv isolates watcher tests from the process environment.
func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// edit rewrites path and moves its mtime forward so the watcher notices even
// on file systems with coarse timestamps.
func edit(t *testing.T, path, content string, step int) {
	t.Helper()
	writeFile(t, path, content)
	mod := time.Now().Add(time.Duration(step) * time.Minute)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// diffRecorder collects onChange calls.
type diffRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	cfgs  []*config.Config
	fired chan struct{}
}

func newDiffRecorder() *diffRecorder {
	return &diffRecorder{fired: make(chan struct{}, 8)}
}

func (r *diffRecorder) record(d config.ConfigDiff, cfg *config.Config) {
	r.mu.Lock()
	r.diffs = append(r.diffs, d)
	r.cfgs = append(r.cfgs, cfg)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *diffRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func watch(t *testing.T, content string, onChange func(config.ConfigDiff, *config.Config), opts ...config.WatcherOption) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tutorvox.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, onChange, append([]config.WatcherOption{config.WithLookup(noEnv)}, opts...)...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, _ := watch(t, tutorYAML, nil)
	cfg := w.Current()
	if cfg.Log.Level != config.LogInfo {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if cfg.Speech.Backend != config.BackendPrimary {
		t.Errorf("backend = %q, want primary", cfg.Speech.Backend)
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("missing file: want error")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "speech:\n  backend: espeak\n")
	if _, err := config.NewWatcher(path, nil, config.WithLookup(noEnv)); err == nil {
		t.Error("invalid backend: want error")
	}
}

func TestWatcher_ReloadReportsDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		wantLevel   config.LogLevel
		wantBackend config.SpeechBackend
		wantRestart []string
	}{
		{
			name:      "log level",
			content:   "log:\n  level: debug\nspeech:\n  backend: primary\n",
			wantLevel: config.LogDebug,
		},
		{
			name:        "backend",
			content:     "log:\n  level: info\nspeech:\n  backend: fallback\n",
			wantBackend: config.BackendFallback,
		},
		{
			name:        "endpoint needs restart",
			content:     tutorYAML + "endpoints:\n  chat: http://tutor.example:9000\n",
			wantRestart: []string{"endpoints"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := newDiffRecorder()
			w, path := watch(t, tutorYAML, rec.record)
			edit(t, path, tt.content, 1)

			if !w.Reload() {
				t.Fatal("Reload() = false, want true")
			}
			if rec.calls() != 1 {
				t.Fatalf("onChange called %d times, want 1", rec.calls())
			}
			d := rec.diffs[0]
			if d.LogLevelChanged != (tt.wantLevel != "") || d.NewLogLevel != tt.wantLevel {
				t.Errorf("log level diff = %t/%q, want %q", d.LogLevelChanged, d.NewLogLevel, tt.wantLevel)
			}
			if d.BackendChanged != (tt.wantBackend != "") || d.NewBackend != tt.wantBackend {
				t.Errorf("backend diff = %t/%q, want %q", d.BackendChanged, d.NewBackend, tt.wantBackend)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			if rec.cfgs[0] != w.Current() {
				t.Error("onChange config is not the current config")
			}
		})
	}
}

func TestWatcher_InvalidEditKeepsRunningConfig(t *testing.T) {
	t.Parallel()

	rec := newDiffRecorder()
	w, path := watch(t, tutorYAML, rec.record)
	before := w.Current()

	edit(t, path, "log:\n  level: bananas\n", 1)
	if w.Reload() {
		t.Error("Reload() = true for an invalid file")
	}
	if w.Current() != before {
		t.Error("invalid edit replaced the running config")
	}

	edit(t, path, "log:\n  level: warn\nspeech:\n  backend: primary\n", 2)
	if !w.Reload() {
		t.Fatal("Reload() after fixing the file = false")
	}
	if rec.calls() != 1 || rec.diffs[0].NewLogLevel != config.LogWarn {
		t.Errorf("diffs = %+v, want one change to warn", rec.diffs)
	}
}

func TestWatcher_UnchangedContentIsQuiet(t *testing.T) {
	t.Parallel()

	rec := newDiffRecorder()
	w, path := watch(t, tutorYAML, rec.record)

	if w.Reload() {
		t.Error("Reload() without edit = true")
	}
	edit(t, path, tutorYAML, 1)
	if w.Reload() {
		t.Error("Reload() after touch = true")
	}

	// Comments change the bytes but not the config.
	edit(t, path, "# tutor settings\n"+tutorYAML, 2)
	if !w.Reload() {
		t.Error("Reload() after comment edit = false")
	}
	if rec.calls() != 0 {
		t.Errorf("onChange called %d times, want 0", rec.calls())
	}
}

func TestWatcher_AppliesEnvOnReload(t *testing.T) {
	t.Parallel()

	lookup := func(key string) (string, bool) {
		if key == config.EnvStreamToken {
			return "from-env", true
		}
		return "", false
	}
	w, path := watch(t, tutorYAML, nil, config.WithLookup(lookup))
	if got := w.Current().Stream.Token; got != "from-env" {
		t.Fatalf("token = %q, want from-env", got)
	}

	edit(t, path, tutorYAML+"stream:\n  token: from-file\n", 1)
	w.Reload()
	if got := w.Current().Stream.Token; got != "from-env" {
		t.Errorf("token after reload = %q, want from-env", got)
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()

	rec := newDiffRecorder()
	w, path := watch(t, tutorYAML, rec.record, config.WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	edit(t, path, "log:\n  level: error\nspeech:\n  backend: primary\n", 1)
	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not pick up the edit")
	}
	if w.Current().Log.Level != config.LogError {
		t.Errorf("log level = %q, want error", w.Current().Log.Level)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
