package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hive-corporation/guardybot/internal/adapter/metrics"
	"github.com/hive-corporation/guardybot/internal/core/service"
)

// Loader reads the presentation file and watches it for changes.
type Loader struct {
	path     string
	logger   *slog.Logger
	mu       sync.RWMutex
	current  service.Presentation
	onChange []func(service.Presentation)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != "" {
		path = filepath.Clean(path)
	}
	l := &Loader{path: path, logger: logger}
	pr, err := LoadPresentation(l.path)
	if err != nil {
		return nil, err
	}
	l.current = pr
	return l, nil
}

// Presentation returns the current (latest) settings.
func (l *Loader) Presentation() service.Presentation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the file reloads successfully.
func (l *Loader) OnChange(fn func(service.Presentation)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the file on changes.
// The parent directory is watched so editors that save by rename are seen.
// A bad edit keeps the previous settings. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return nil, errors.New("config watcher: no presentation file configured")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != l.path {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Error("❌ presentation config reload failed, keeping previous settings", "path", l.path, "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("⚠️ config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the file.
func (l *Loader) Reload() (service.Presentation, error) {
	pr, err := LoadPresentation(l.path)
	if err != nil {
		metrics.RecordConfigReload(false)
		return service.Presentation{}, err
	}
	metrics.RecordConfigReload(true)

	l.mu.Lock()
	l.current = pr
	callbacks := make([]func(service.Presentation), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.logger.Info("🔄 presentation config reloaded", "path", l.path, "catalog_pairs", len(pr.Catalog.Pairs()))
	for _, fn := range callbacks {
		fn(pr)
	}
	return pr, nil
}
