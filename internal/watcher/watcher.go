// Package watcher reloads the configuration file when it changes on disk and
// hands the new configuration to registered callbacks.
package watcher

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/CageChen/dfsselect/internal/config"
)

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 150 * time.Millisecond

// Callback is called with every configuration that loaded and validated.
type Callback func(*config.Config)

// ErrorCallback is called when a changed file fails to load or validate.
type ErrorCallback func(error)

// Watcher monitors the configuration file.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	callbacks []Callback
	onError   []ErrorCallback

	timerMu sync.Mutex
	timer   *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for the configuration file at path.
func New(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watcher: config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  w,
		path:     abs,
		debounce: DefaultDebounce,
		logger:   logger.With(zap.String("config", abs)),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce overrides the delay between the last event and the reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// OnChange registers a callback for reloaded configurations
func (w *Watcher) OnChange(cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// OnError registers a callback for failed reloads.
func (w *Watcher) OnError(cb ErrorCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = append(w.onError, cb)
}

// Start begins watching. The parent directory is watched rather than the
// file so that editors replacing the file by rename are still seen.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.eventLoop()
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := config.Load(w.path)
	if err == nil {
		cfg.Normalize()
		err = cfg.Validate()
	}

	w.mu.RLock()
	callbacks := make([]Callback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	onError := make([]ErrorCallback, len(w.onError))
	copy(onError, w.onError)
	w.mu.RUnlock()

	if err != nil {
		w.logger.Warn("config reload failed, keeping previous settings", zap.Error(err))
		for _, cb := range onError {
			cb(err)
		}
		return
	}

	w.logger.Info("config reloaded")
	for _, cb := range callbacks {
		cb(cfg)
	}
}
