package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"tools.zach/dev/jamibus/internal/paths"
)

// DefaultDebounce coalesces the burst of events an editor or an atomic
// rename produces into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands each
// successfully validated result to the registered callbacks.
type Watcher struct {
	dataDir  string
	debounce time.Duration
	log      *slog.Logger

	// mu protects callbacks.
	mu        sync.Mutex
	callbacks []func(*Config)
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger for reload failures.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher creates a watcher for dataDir/config.toml.
func NewWatcher(dataDir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dataDir:  dataDir,
		debounce: DefaultDebounce,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnChange registers fn to receive every reloaded config.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Watch blocks until ctx is cancelled. The directory is watched rather than
// the file because atomic saves replace the file's inode.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dataDir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dataDir, err)
	}

	target := filepath.Join(w.dataDir, paths.ConfigFile)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.dataDir)
	if err != nil {
		w.log.Warn("config reload rejected", "error", err)
		return
	}

	w.mu.Lock()
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}
