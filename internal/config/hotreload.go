package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the reloaded config.
type ChangeHandler func(cfg *Config)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads the config file when it changes on disk. The parent
// directory is watched so editors that replace the file atomically are
// picked up too. Bursts of writes are debounced into one reload; a file
// that fails to parse keeps the previous config in effect.
type Watcher struct {
	path     string
	debounce time.Duration

	mu       sync.Mutex
	handlers []ChangeHandler
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher for path. Nothing is watched until Start.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: filepath.Clean(path), debounce: defaultDebounce}
}

// OnChange registers handler for successful reloads.
func (w *Watcher) OnChange(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins watching. The watch loop ends when ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	w.mu.Lock()
	w.fsw = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx, fsw, w.done)
	slog.Info("config: watcher started", "path", w.path)
	return nil
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	fsw.Close()
	<-done
	slog.Info("config: watcher stopped")
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fsw.Close()
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	slog.Info("config: reloaded", "path", w.path)
}
