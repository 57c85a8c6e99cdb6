package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls when no interval is
// configured.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and reports validated changes. A change is
// detected by mtime first and confirmed by a SHA-256 of the content, so a
// touch without edits is ignored.
type Watcher struct {
	path     string
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and returns a Watcher whose [Watcher.Current] is the
// loaded config. Polling starts with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, log: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.sum, w.mtime = cfg, sum, mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and calls onChange with every new valid
// config and its diff against the previous one. onChange runs on the
// polling goroutine. Run returns nil when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, onChange func(cfg *Config, d ConfigDiff)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cfg, d, err := w.Check()
			if err != nil {
				w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
				continue
			}
			if cfg != nil && onChange != nil {
				onChange(cfg, d)
			}
		}
	}
}

// Check re-reads the file if its mtime moved. It returns the new config and
// its diff against the previous one, or a nil config when nothing changed.
// An unreadable or invalid file is returned as an error and the previous
// config stays current.
func (w *Watcher) Check() (*Config, ConfigDiff, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, ConfigDiff{}, err
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return nil, ConfigDiff{}, nil
	}

	cfg, sum, mtime, err := w.read()
	if err != nil {
		return nil, ConfigDiff{}, err
	}

	w.mu.Lock()
	w.mtime = mtime
	if sum == w.sum {
		w.mu.Unlock()
		return nil, ConfigDiff{}, nil
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	return cfg, Diff(old, cfg), nil
}

// read loads and validates the file and returns it with its content hash
// and mtime.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
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
