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

// Watcher polls the config file behind a running server and surfaces
// hot-reloadable changes as a [ConfigDiff]: log level, session defaults, and
// the corrector lexicon. Provider, audio-format and listen-address edits are
// not delivered; those need a restart, and the watcher says so in the log
// instead of invoking the callback.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(cfg *Config, diff ConfigDiff)

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

// NewWatcher loads the config at path and starts polling it in a background
// goroutine. onReload runs outside the watcher lock with the freshly loaded
// config and the hot-reloadable diff against the previous one; it is never
// called for edits that only touch restart-bound settings.
func NewWatcher(path string, onReload func(cfg *Config, diff ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.sum = sum
	w.mtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
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

// check re-reads the file when its mtime moved. A file that fails to parse or
// validate leaves the last good config in place; sessions keep running on the
// defaults they have.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unreadable, keeping last good config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	seen := w.mtime
	w.mu.Unlock()
	if info.ModTime().Equal(seen) {
		return
	}

	cfg, sum, mtime, err := w.load()
	if err != nil {
		slog.Warn("config file changed but does not validate, keeping last good config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if sum == w.sum {
		// Touched, content identical.
		w.mtime = mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.sum = sum
	w.mtime = mtime
	w.mu.Unlock()

	diff := Diff(old, cfg)
	if diff.Empty() {
		slog.Info("config file changed, but only in settings that need a restart", "path", w.path)
		return
	}
	slog.Info("session configuration reloaded",
		"path", w.path,
		"log_level_changed", diff.LogLevelChanged,
		"session_changed", diff.SessionChanged,
		"lexicon_changed", diff.LexiconChanged,
	)
	if w.onReload != nil {
		w.onReload(cfg, diff)
	}
}

// load reads, parses and validates the file, returning the config with the
// content hash and mtime used for change detection.
func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
