// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/pgbackupd/internal/middleware"
)

// RouterConfig tunes the admin router.
type RouterConfig struct {
	// RunRateLimit is the number of manual run requests allowed per client IP
	// within RunRateWindow. Zero or less disables the limit.
	RunRateLimit  int
	RunRateWindow time.Duration

	// RequestTimeout bounds each request. Zero disables it.
	RequestTimeout time.Duration

	// CORSAllowedOrigins enables CORS for browser dashboards. Empty disables
	// CORS entirely.
	CORSAllowedOrigins []string
}

// DefaultRouterConfig returns the production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RunRateLimit:   5,
		RunRateWindow:  time.Minute,
		RequestTimeout: 30 * time.Second,
	}
}

// NewRouter builds the chi router for the admin API.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusNotFound, ErrCodeNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", h.ListBackups)
			r.Get("/schedule", h.ScheduleStatus)
			r.With(runRateLimit(cfg)).Post("/run", h.RunBackup)
		})
	})

	return r
}

// runRateLimit limits manual runs per client IP. RealIP runs first, so
// KeyByIP sees the forwarded address.
func runRateLimit(cfg RouterConfig) func(http.Handler) http.Handler {
	if cfg.RunRateLimit <= 0 || cfg.RunRateWindow <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.RunRateLimit,
		cfg.RunRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).TooManyRequests("Too many manual backup requests")
		}),
	)
}
