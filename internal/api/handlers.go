// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/pgbackupd/internal/backup"
	"github.com/tomtom215/pgbackupd/internal/jobs"
	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/scheduler"
)

// BackupLister lists backup artifacts. *backup.Store implements it.
type BackupLister interface {
	List() ([]backup.Artifact, error)
}

// BackupScheduler reports the schedule and accepts manual runs.
// *scheduler.Scheduler implements it.
type BackupScheduler interface {
	Status() scheduler.Status
	Trigger(ctx context.Context) error
}

// LockChecker verifies that the backup duty lock is still held.
// *lock.PostgresProvider implements it.
type LockChecker interface {
	Ping(ctx context.Context) error
}

// lockCheckTimeout bounds the lock check in the readiness probe.
const lockCheckTimeout = 2 * time.Second

// Handler serves the admin endpoints.
type Handler struct {
	backups   BackupLister
	scheduler BackupScheduler
	lockCheck LockChecker
	startTime time.Time
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithLockCheck makes readiness fail when c reports the lock lost.
func WithLockCheck(c LockChecker) HandlerOption {
	return func(h *Handler) {
		h.lockCheck = c
	}
}

// NewHandler creates a handler. Both dependencies are required.
func NewHandler(backups BackupLister, sched BackupScheduler, opts ...HandlerOption) *Handler {
	h := &Handler{
		backups:   backups,
		scheduler: sched,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BackupList is the payload of GET /api/v1/backups.
type BackupList struct {
	Backups []backup.Artifact `json:"backups"`
	Count   int               `json:"count"`
}

// RunAccepted is the payload of an accepted manual run.
type RunAccepted struct {
	Job           string `json:"job"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ReadyStatus is the payload of GET /api/v1/health/ready.
type ReadyStatus struct {
	Status        string           `json:"status"`
	Schedule      scheduler.Status `json:"schedule"`
	UptimeSeconds float64          `json:"uptime_seconds"`
}

// HealthLive reports that the process is serving requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady reports ready when the backup directory can be listed and,
// with a lock check configured, the duty lock connection is alive.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.lockCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), lockCheckTimeout)
		err := h.lockCheck.Ping(ctx)
		cancel()
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Readiness check failed: backup duty lock connection lost")
			rw.ServiceUnavailable("Backup duty lock connection lost")
			return
		}
	}

	if _, err := h.backups.List(); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed: backup directory not readable")
		rw.ServiceUnavailable("Backup directory is not readable")
		return
	}

	rw.Success(ReadyStatus{
		Status:        "ready",
		Schedule:      h.scheduler.Status(),
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// ListBackups returns every artifact in the backup directory, newest first.
// The optional state query parameter filters by artifact state.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	state := backup.ArtifactState(r.URL.Query().Get("state"))
	switch state {
	case "", backup.StateComplete, backup.StateInProgress, backup.StateOrphaned:
	default:
		rw.BadRequest("state must be one of: complete, in_progress, orphaned")
		return
	}

	artifacts, err := h.backups.List()
	if err != nil {
		rw.StorageError(err)
		return
	}

	if state != "" {
		filtered := artifacts[:0]
		for _, a := range artifacts {
			if a.State == state {
				filtered = append(filtered, a)
			}
		}
		artifacts = filtered
	}
	if artifacts == nil {
		artifacts = []backup.Artifact{}
	}

	rw.Success(BackupList{Backups: artifacts, Count: len(artifacts)})
}

// ScheduleStatus returns the backup registration state and next run.
func (h *Handler) ScheduleStatus(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.scheduler.Status())
}

// RunBackup enqueues an immediate backup. It returns 202 once the job is
// queued; the outcome is reported by logs and metrics, not by this call.
func (h *Handler) RunBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	logger := logging.Ctx(r.Context())

	err := h.scheduler.Trigger(r.Context())
	switch {
	case err == nil:
		logger.Info().Str("job", scheduler.JobName).Msg("Manual database backup enqueued")
		rw.Accepted(RunAccepted{
			Job:           scheduler.JobName,
			CorrelationID: logging.CorrelationIDFromContext(r.Context()),
		})
	case errors.Is(err, scheduler.ErrNotOwner):
		rw.Conflict(ErrCodeNotOwner, "This instance does not hold the backup duty")
	case errors.Is(err, jobs.ErrAlreadyQueued):
		rw.Conflict(ErrCodeConflict, "A database backup is already queued or running")
	case errors.Is(err, jobs.ErrQueueClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		logger.Warn().Err(err).Msg("Manual database backup not enqueued")
		rw.ServiceUnavailable("The job queue is not accepting work")
	default:
		logger.Error().Err(err).Msg("Manual database backup not enqueued")
		rw.InternalError("Failed to enqueue database backup")
	}
}
