// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

// Package metrics holds the Prometheus collectors exported on /metrics.
//
// Collectors are package globals registered with the default registry through
// promauto, so any package can record without plumbing a registry around.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup run metrics
	BackupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbackupd_backup_runs_total",
			Help: "Total number of database backup runs by outcome",
		},
		[]string{"status"}, // "success", "failed"
	)

	BackupRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "pgbackupd_backup_run_duration_seconds",
			Help: "Duration of database backup runs in seconds",
			// Dumps range from seconds to hours
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)

	BackupArtifactBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbackupd_backup_artifact_bytes",
			Help: "Size of the most recently published backup artifact",
		},
	)

	BackupLastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbackupd_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup run",
		},
	)

	StageExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbackupd_pipeline_stage_exits_total",
			Help: "Pipeline stage exits by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	// Retention metrics
	RetentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgbackupd_retention_deleted_total",
			Help: "Total number of backup artifacts deleted by retention sweeps",
		},
	)

	RetentionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgbackupd_retention_delete_failures_total",
			Help: "Total number of artifact deletions that failed during retention sweeps",
		},
	)

	// Coordination and scheduling metrics
	BackupDutyHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbackupd_backup_duty_held",
			Help: "1 if this instance holds the backup duty lock, 0 otherwise",
		},
	)

	ScheduleEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbackupd_schedule_enabled",
			Help: "1 if the backup cron entry is registered and enabled",
		},
	)

	ScheduleNextRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbackupd_schedule_next_run_timestamp_seconds",
			Help: "Unix time of the next scheduled backup, 0 when none",
		},
	)

	ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbackupd_config_reloads_total",
			Help: "Configuration reload attempts by result",
		},
		[]string{"result"}, // "success", "rejected", "failed"
	)

	// Job queue metrics
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbackupd_jobs_enqueued_total",
			Help: "Jobs accepted by the queue",
		},
		[]string{"job"},
	)

	JobsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbackupd_jobs_skipped_total",
			Help: "Triggers dropped because the job was already queued or running",
		},
		[]string{"job"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbackupd_jobs_completed_total",
			Help: "Jobs finished by the queue consumer, by result",
		},
		[]string{"job", "result"}, // "success", "failed", "unknown"
	)

	// Run event publishing
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbackupd_events_published_total",
			Help: "Backup run events handed to the event bus, by result",
		},
		[]string{"result"}, // "success", "failed", "rejected"
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbackupd_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgbackupd_api_request_duration_seconds",
			Help:    "Duration of admin API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records an admin API request
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// SetBool sets a gauge to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// SetTimestamp sets a gauge to the Unix time of t, or 0 for the zero time.
func SetTimestamp(g prometheus.Gauge, t time.Time) {
	if t.IsZero() {
		g.Set(0)
		return
	}
	g.Set(float64(t.Unix()))
}
