package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the most recently loaded Config and reloads it whenever
// the backing file changes, so a long-lived process can pick up a widened
// round budget or threshold tuning without a restart (§10.3). Current()
// returns the latest valid snapshot. The Round Controller does not read a
// Watcher: consensus.Run takes its settings as a RoundConfig value that is
// fixed for the whole run.
type Watcher struct {
	mu      sync.RWMutex
	current *Config
	loader  *Loader
	watcher *fsnotify.Watcher
	stop    chan struct{}
	logger  *slog.Logger
}

// NewWatcher creates a Watcher seeded with an already-loaded Config and
// begins watching its backing file, if any. A missing or unwatchable file
// degrades to a static, never-reloading snapshot rather than failing.
func NewWatcher(loader *Loader, initial *Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{current: initial, loader: loader, stop: make(chan struct{}), logger: logger}

	path := loader.ConfigFile()
	if path == "" {
		return w
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable, live reload disabled", "error", err)
		return w
	}
	if err := fw.Add(path); err != nil {
		logger.Warn("config watcher could not watch file, live reload disabled", "path", path, "error", err)
		_ = fw.Close()
		return w
	}
	w.watcher = fw
	go w.loop()

	return w
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous snapshot", "error", err)
		return
	}
	if err := Validate(cfg); err != nil {
		w.logger.Warn("reloaded config failed validation, keeping previous snapshot", "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.logger.Info("config reloaded")
}

// Current returns the most recently loaded, validated Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher, if one was started.
func (w *Watcher) Close() error {
	close(w.stop)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
