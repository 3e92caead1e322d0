// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/knadh/koanf/providers/file"

	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/metrics"
)

// ReloadFunc receives the previous and the new configuration after the new
// one passed validation.
type ReloadFunc func(prev, next *Config) error

// Watcher reloads the configuration when its file changes.
type Watcher struct {
	path string
	load func(path string) (*Config, error)

	mu        sync.Mutex
	current   *Config
	callbacks []ReloadFunc
}

// NewWatcher creates a watcher for path, starting from the already loaded
// initial configuration.
func NewWatcher(path string, initial *Config) *Watcher {
	return &Watcher{
		path:    path,
		load:    LoadFrom,
		current: initial,
	}
}

// Path returns the watched file, empty when no file was found at startup.
func (w *Watcher) Path() string {
	return w.path
}

// OnReload registers fn. Callbacks run in registration order.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current returns the configuration currently in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload loads and validates the configuration and hands it to the
// callbacks. An invalid candidate is rejected before any callback sees it.
// The new configuration becomes current only when every callback succeeds.
func (w *Watcher) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	logger := logging.WithComponent("config")

	next, err := w.load(w.path)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("rejected").Inc()
		logger.Warn().Err(err).Str("path", w.path).Msg("Configuration change rejected; keeping current configuration")
		return err
	}

	for _, fn := range w.callbacks {
		if err := fn(w.current, next); err != nil {
			metrics.ConfigReloadsTotal.WithLabelValues("failed").Inc()
			logger.Error().Err(err).Str("path", w.path).Msg("Failed to apply configuration change")
			return fmt.Errorf("apply configuration: %w", err)
		}
	}

	w.current = next
	metrics.ConfigReloadsTotal.WithLabelValues("success").Inc()
	logger.Info().Str("path", w.path).Msg("Configuration reloaded")
	return nil
}

// Serve watches the file until ctx is cancelled. It implements
// suture.Service. Without a file it only waits for ctx.
func (w *Watcher) Serve(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	provider := file.Provider(w.path)
	err := provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			logger := logging.WithComponent("config")
			logger.Warn().Err(err).Str("path", w.path).Msg("Config file watch error")
			return
		}
		_ = w.Reload() //nolint:errcheck // logged by Reload
	})
	if err != nil {
		return fmt.Errorf("watch config file %s: %w", w.path, err)
	}
	defer func() {
		_ = provider.Unwatch() //nolint:errcheck // best effort on shutdown
	}()

	<-ctx.Done()
	return ctx.Err()
}

// String implements fmt.Stringer.
func (w *Watcher) String() string {
	return "config-watcher"
}
