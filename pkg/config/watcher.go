package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler is a callback function called when configuration changes.
type ChangeHandler func(*Config) error

// Watcher monitors the configuration file for changes and triggers reload.
type Watcher struct {
	loader   *Loader
	config   *Config
	handlers []ChangeHandler
	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(loader *Loader, config *Config) *Watcher {
	return &Watcher{
		loader: loader,
		config: config,
	}
}

// AddHandler registers a handler to be called when configuration changes.
func (w *Watcher) AddHandler(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins watching the configuration file for changes. Reloaded values
// are swapped into the shared *Config so existing holders observe them.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.watching = true
	w.mu.Unlock()

	w.loader.viper.OnConfigChange(func(e fsnotify.Event) {
		next, err := w.loader.Load(w.config.Path())
		if err != nil {
			// Keep the previous config on a broken edit.
			return
		}

		w.config.Replace(next)
		w.notifyHandlers(w.config)
	})

	w.loader.viper.WatchConfig()

	return nil
}

// Stop stops watching the configuration file.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watching = false
}

// notifyHandlers calls all registered handlers with the new configuration.
func (w *Watcher) notifyHandlers(config *Config) {
	w.mu.RLock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.RUnlock()

	for _, handler := range handlers {
		// A failing handler must not block the remaining handlers.
		_ = handler(config)
	}
}
