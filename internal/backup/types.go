// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package backup

import (
	"errors"
	"time"
)

// Policy is the scheduling and retention configuration for database backups.
// A Policy is an immutable snapshot: configuration updates replace it wholesale.
type Policy struct {
	// CronExpression controls when scheduled backups run.
	CronExpression string `json:"cron_expression"`

	// Enabled turns scheduled backups on or off.
	Enabled bool `json:"enabled"`

	// KeepLastAmount is the number of complete artifacts kept by each sweep.
	KeepLastAmount uint `json:"keep_last_amount"`
}

// DefaultPolicy returns the policy used when no configuration is present:
// a nightly backup at 02:00 keeping the last 14 artifacts.
func DefaultPolicy() Policy {
	return Policy{
		CronExpression: "0 02 * * *",
		Enabled:        true,
		KeepLastAmount: 14,
	}
}

// ArtifactState describes where an artifact is in its lifecycle.
type ArtifactState string

const (
	// StateInProgress is a temporary artifact owned by the run currently executing.
	StateInProgress ArtifactState = "in_progress"

	// StateComplete is a published artifact.
	StateComplete ArtifactState = "complete"

	// StateOrphaned is a temporary artifact nobody is writing to anymore.
	StateOrphaned ArtifactState = "orphaned"
)

// Artifact is a single backup file, final or temporary.
type Artifact struct {
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	State     ArtifactState `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	SizeBytes int64         `json:"size_bytes"`
}

// JobStatus is the outcome of a backup job as reported to the job queue.
type JobStatus string

const (
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

var (
	// ErrRunFailed is returned by Service.Job when the run did not publish an artifact.
	ErrRunFailed = errors.New("database backup failed")

	// ErrPublish wraps failures to rename a completed temporary artifact.
	ErrPublish = errors.New("publish backup artifact")

	// ErrInvalidName is returned when a name is not a backup artifact name.
	ErrInvalidName = errors.New("invalid backup artifact name")
)
