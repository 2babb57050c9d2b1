package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ApplyFunc receives the difference between the running configuration and a
// freshly loaded one, together with the new configuration.
type ApplyFunc func(d ConfigDiff, cfg *Config)

// Watcher polls the YAML file behind a running server and hands valid edits
// to an [ApplyFunc]. Files that fail to parse or validate are logged and
// ignored; the last good configuration stays current. Edits that change
// nothing the server compares (comments, key order) update the current
// configuration without invoking the callback.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ApplyFunc

	// checkMu serialises polls with SIGHUP-triggered reloads.
	checkMu sync.Mutex

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. apply may be nil.
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.mtime, w.sum = snap.cfg, snap.mtime, snap.sum

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file immediately, regardless of its modification
// time, and returns what changed. An invalid file leaves the current
// configuration in place and is reported as an error.
func (w *Watcher) Reload() (ConfigDiff, error) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()
	return w.reload()
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file when its modification time moved.
func (w *Watcher) check() {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	if _, err := w.reload(); err != nil {
		slog.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
	}
}

// reload must be called with checkMu held.
func (w *Watcher) reload() (ConfigDiff, error) {
	snap, err := w.read()
	if err != nil {
		return ConfigDiff{}, err
	}

	w.mu.Lock()
	if snap.sum == w.sum {
		w.mtime = snap.mtime
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	old := w.current
	w.current, w.mtime, w.sum = snap.cfg, snap.mtime, snap.sum
	w.mu.Unlock()

	d := Diff(old, snap.cfg)
	if d.Empty() {
		slog.Debug("config watcher: file edited without effective changes", "path", w.path)
		return d, nil
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"typing_idle_changed", d.TypingIdleChanged,
		"restart_required", d.RestartRequired,
	)
	if w.apply != nil {
		w.apply(d, snap.cfg)
	}
	return d, nil
}

type snapshot struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
}

// read parses and validates the file and fingerprints its content.
func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
