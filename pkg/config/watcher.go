// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/knadh/koanf/providers/file"
)

// Watcher reloads the configuration when its file changes and hands the
// new value to registered listeners. A reload that fails keeps the last
// good configuration.
type Watcher struct {
	path    string
	profile string
	source  *file.File
	current atomic.Pointer[Config]
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []func(*Config)
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads path with profile and prepares to watch it.
func NewWatcher(path, profile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:    path,
		profile: profile,
		source:  file.Provider(path),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	cfg, err := LoadWithProfile(path, profile)
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)
	return w, nil
}

// OnChange registers a callback run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	return w.current.Load()
}

// Start watches the file for writes.
func (w *Watcher) Start() error {
	return w.source.Watch(func(_ any, err error) {
		if err != nil {
			w.logger.Warn("config.watch.error", slog.String("path", w.path), slog.String("error", err.Error()))
			return
		}
		w.reload()
	})
}

// Stop ends watching.
func (w *Watcher) Stop() error {
	return w.source.Unwatch()
}

func (w *Watcher) reload() {
	cfg, err := LoadWithProfile(w.path, w.profile)
	if err != nil {
		w.logger.Error("config.reload.failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	w.current.Store(cfg)

	w.mu.Lock()
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reloaded", slog.String("path", w.path))
	for _, fn := range listeners {
		fn(cfg)
	}
}
