// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package middleware provides the HTTP middleware used by the admin API.

Key Components:

  - RequestID: request and correlation IDs for log tracing
  - PrometheusMetrics: request counts and latency per route pattern

Both are chi-compatible (func(http.Handler) http.Handler):

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)

PrometheusMetrics labels requests with the chi route pattern, not the raw
path, so it must run inside a chi router.
*/
package middleware
