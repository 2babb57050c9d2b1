package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/blink/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
database:
  postgres_dsn: "postgres://localhost/test"
dictation:
  typing_idle: 400ms
`

const watcherUpdatedYAML = `
server:
  log_level: debug
database:
  postgres_dsn: "postgres://localhost/test"
dictation:
  typing_idle: 750ms
`

// Same settings as watcherValidYAML, different bytes.
const watcherCommentedYAML = `
# tuned for the demo box
server:
  log_level: info
database:
  postgres_dsn: "postgres://localhost/test"
dictation:
  typing_idle: 400ms
`

const watcherRestartYAML = `
server:
  log_level: info
  listen_addr: ":9090"
database:
  postgres_dsn: "postgres://localhost/test"
dictation:
  typing_idle: 400ms
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite replaces the file content and moves its mtime forward so that
// coarse filesystem clocks still register the edit.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
}

func newConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	return path
}

// recorder collects ApplyFunc invocations.
type recorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 8)}
}

func (r *recorder) apply(d config.ConfigDiff, _ *config.Config) {
	r.mu.Lock()
	r.diffs = append(r.diffs, d)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) calls() []config.ConfigDiff {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.ConfigDiff(nil), r.diffs...)
}

// ─── Loading ─────────────────────────────────────────────────────────────────

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, err := config.NewWatcher(newConfigFile(t, watcherValidYAML), nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Dictation.TypingIdle != 400*time.Millisecond {
		t.Errorf("typing_idle: got %v, want 400ms", cfg.Dictation.TypingIdle)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(*testing.T) string { return "/nonexistent/path.yaml" }},
		{"invalid file", func(t *testing.T) string { return newConfigFile(t, watcherInvalidYAML) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.NewWatcher(tc.path(t), nil); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

// ─── Polling ─────────────────────────────────────────────────────────────────

func TestWatcher_PollingAppliesDiff(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, watcherValidYAML)
	rec := newRecorder()
	w, err := config.NewWatcher(path, rec.apply, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rewrite(t, path, watcherUpdatedYAML)

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("apply was not invoked within timeout")
	}

	d := rec.calls()[0]
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.TypingIdleChanged || d.NewTypingIdle != 750*time.Millisecond {
		t.Errorf("typing idle diff = %+v", d)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", got)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, watcherValidYAML)
	rec := newRecorder()
	w, err := config.NewWatcher(path, rec.apply, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rewrite(t, path, watcherInvalidYAML)
	time.Sleep(200 * time.Millisecond)

	if n := len(rec.calls()); n != 0 {
		t.Errorf("apply called %d times for an invalid file", n)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want info", got)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, watcherValidYAML)
	rec := newRecorder()
	w, err := config.NewWatcher(path, rec.apply, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := len(rec.calls()); n != 0 {
		t.Errorf("apply called %d times for a touch-only edit", n)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		edit        string
		wantErr     bool
		wantApplied bool
		check       func(t *testing.T, d config.ConfigDiff)
	}{
		{
			name:        "hot settings",
			edit:        watcherUpdatedYAML,
			wantApplied: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.TypingIdleChanged || !d.LogLevelChanged {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name: "comment only",
			edit: watcherCommentedYAML,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.Empty() {
					t.Errorf("diff = %+v, want empty", d)
				}
			},
		},
		{
			name:        "restart section",
			edit:        watcherRestartYAML,
			wantApplied: true,
			check: func(t *testing.T, d config.ConfigDiff) {
				if len(d.RestartRequired) != 1 || d.RestartRequired[0] != "server" {
					t.Errorf("RestartRequired = %v, want [server]", d.RestartRequired)
				}
			},
		},
		{
			name:    "invalid",
			edit:    watcherInvalidYAML,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := newConfigFile(t, watcherValidYAML)
			rec := newRecorder()
			w, err := config.NewWatcher(path, rec.apply, config.WithInterval(time.Hour))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer w.Stop()

			// Reload does not wait for the mtime to move.
			writeFile(t, path, tc.edit)
			d, err := w.Reload()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Reload() error = %v, wantErr %v", err, tc.wantErr)
			}
			if got := len(rec.calls()) == 1; got != tc.wantApplied {
				t.Errorf("applied = %v, want %v", got, tc.wantApplied)
			}
			if tc.check != nil {
				tc.check(t, d)
			}
		})
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	w, err := config.NewWatcher(newConfigFile(t, watcherValidYAML), nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}
