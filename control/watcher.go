// control/watcher.go
// Author: momentics <momentics@gmail.com>
//
// Configuration file watcher. Valid edits are handed to a ConfigUpdater;
// invalid ones are logged and the running configuration is kept.

package control

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigUpdater receives every successfully reloaded configuration.
type ConfigUpdater interface {
	UpdateConfig(cfg *Config)
}

// UpdaterFunc adapts a function to ConfigUpdater.
type UpdaterFunc func(cfg *Config)

// UpdateConfig calls f(cfg).
func (f UpdaterFunc) UpdateConfig(cfg *Config) { f(cfg) }

// DefaultDebounce is the quiet period before a change is reloaded.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes on disk.
type Watcher struct {
	path     string
	updater  ConfigUpdater
	fsw      *fsnotify.Watcher
	log      *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	current *Config
	timer   *time.Timer

	stop chan struct{}
	done chan struct{}
}

// NewWatcher starts watching path. Call Start to process events.
func NewWatcher(path string, initial *Config, u ConfigUpdater, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		updater:  u,
		fsw:      fsw,
		log:      log,
		debounce: DefaultDebounce,
		current:  initial,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Current returns the most recently applied configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start runs the event loop in a new goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop ends the event loop and waits for it.
func (w *Watcher) Stop() {
	close(w.stop)
	w.fsw.Close()
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Chmod) {
				continue
			}
			// Editors save by rename; the watch follows the old inode.
			if ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Create) {
				_ = w.fsw.Remove(w.path)
				_ = w.fsw.Add(w.path)
			}
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, w.reload)
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping current", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.updater.UpdateConfig(cfg)
	w.log.Info("config reloaded", zap.String("path", w.path))
}
