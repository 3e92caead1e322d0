// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
service.go - Backup Run Orchestration

Service executes one backup run end to end:

 1. Store.Create opens a fresh temporary artifact
 2. the dump pipeline streams pg_dumpall | gzip into it
 3. Store.Finish flushes and closes the file
 4. on success Store.Publish renames it to its final name
 5. Cleaner.Sweep applies retention, whatever the outcome

A failed run leaves its temporary artifact behind; step 5 removes it. Runs are
never retried here: the next scheduled trigger is the retry.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tomtom215/pgbackupd/internal/dbconn"
	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/metrics"
	"github.com/tomtom215/pgbackupd/internal/pipeline"
)

// DefaultTimeout bounds a single backup run unless configured otherwise.
const DefaultTimeout = 4 * time.Hour

// Runner streams one dump into dst.
type Runner interface {
	Run(ctx context.Context, dst io.Writer) (*pipeline.Result, error)
}

// RunnerFactory builds the Runner for a single run.
type RunnerFactory func(tools pipeline.Tools, conn dbconn.Params) Runner

func defaultRunnerFactory(tools pipeline.Tools, conn dbconn.Params) Runner {
	return pipeline.NewDump(tools, conn)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Policy     Policy
	Connection dbconn.Params
	Tools      pipeline.Tools

	// Timeout bounds a run. Zero disables the bound.
	Timeout time.Duration
}

// Service runs database backups against a Store.
type Service struct {
	store   *Store
	cleaner *Cleaner

	policy     atomic.Pointer[Policy]
	connection dbconn.Params
	tools      pipeline.Tools
	timeout    time.Duration
	newRunner  RunnerFactory
	nowFn      func() time.Time
	observers  []RunObserver
}

// RunReport describes a finished run.
type RunReport struct {
	CorrelationID string
	Status        JobStatus
	Artifact      string
	SizeBytes     int64
	Duration      time.Duration
	Deleted       int
	Err           error
	FinishedAt    time.Time
}

// RunObserver is told about every finished run. It runs on the job's
// goroutine and must not block for long.
type RunObserver func(ctx context.Context, report RunReport)

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithRunnerFactory replaces how the dump pipeline is built.
func WithRunnerFactory(f RunnerFactory) ServiceOption {
	return func(s *Service) {
		s.newRunner = f
	}
}

// WithRunObserver adds fn to the observers notified after each run.
func WithRunObserver(fn RunObserver) ServiceOption {
	return func(s *Service) {
		s.observers = append(s.observers, fn)
	}
}

// NewService creates a backup Service.
func NewService(store *Store, cfg ServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		cleaner:    NewCleaner(store),
		connection: cfg.Connection,
		tools:      cfg.Tools,
		timeout:    cfg.Timeout,
		newRunner:  defaultRunnerFactory,
		nowFn:      time.Now,
	}
	if s.tools.DumpPath == "" || s.tools.CompressPath == "" {
		defaults := pipeline.DefaultTools()
		if s.tools.DumpPath == "" {
			s.tools.DumpPath = defaults.DumpPath
		}
		if s.tools.CompressPath == "" {
			s.tools.CompressPath = defaults.CompressPath
		}
	}
	policy := cfg.Policy
	s.policy.Store(&policy)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the current policy snapshot.
func (s *Service) Policy() Policy {
	return *s.policy.Load()
}

// SetPolicy replaces the policy used by subsequent sweeps.
func (s *Service) SetPolicy(p Policy) {
	s.policy.Store(&p)
}

// Store returns the artifact store.
func (s *Service) Store() *Store {
	return s.store
}

// Job adapts Run to the job queue's handler signature.
func (s *Service) Job(ctx context.Context) error {
	if status := s.Run(ctx); status != JobStatusSuccess {
		return ErrRunFailed
	}
	return nil
}

// Run performs one backup and a retention sweep, and reports the outcome.
// A correlation ID already on ctx, such as the one handed out for a manual
// run, is kept.
func (s *Service) Run(ctx context.Context) JobStatus {
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	logger := logging.Ctx(ctx)
	start := s.nowFn()

	logger.Info().Str("database", s.connection.Redacted()).Msg("Database backup started")

	name, size, err := s.dump(ctx)

	// Sweep regardless of outcome so a failed run's temporary file goes away.
	// The run's own context may have expired; the sweep must still happen.
	policy := s.Policy()
	deleted, sweepErr := s.cleaner.Sweep(context.WithoutCancel(ctx), policy)
	if sweepErr != nil {
		logger.Error().Err(sweepErr).Msg("Database backup cleanup failed")
	}

	finished := s.nowFn()
	duration := finished.Sub(start)
	metrics.BackupRunDuration.Observe(duration.Seconds())

	report := RunReport{
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		Status:        JobStatusSuccess,
		Artifact:      name,
		SizeBytes:     size,
		Duration:      duration,
		Deleted:       deleted,
		Err:           err,
		FinishedAt:    finished,
	}

	if err != nil {
		report.Status = JobStatusFailed
		metrics.BackupRunsTotal.WithLabelValues(string(JobStatusFailed)).Inc()
		logger.Error().Err(err).Dur("duration", duration).Msg("Database backup failed")
	} else {
		metrics.BackupRunsTotal.WithLabelValues(string(JobStatusSuccess)).Inc()
		metrics.BackupArtifactBytes.Set(float64(size))
		metrics.BackupLastSuccessTimestamp.Set(float64(finished.Unix()))
		logger.Info().
			Str("artifact", name).
			Int64("size_bytes", size).
			Int("deleted", deleted).
			Dur("duration", duration).
			Msg("Database backup completed")
	}

	for _, observe := range s.observers {
		observe(context.WithoutCancel(ctx), report)
	}
	return report.Status
}

// dump runs the pipeline into a new temporary artifact and publishes it.
// It returns the final name and size of the published artifact.
func (s *Service) dump(ctx context.Context) (string, int64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	f, tempName, err := s.store.Create()
	if err != nil {
		return "", 0, err
	}
	defer s.store.Abandon(tempName)

	runner := s.newRunner(s.tools, s.connection)
	result, runErr := runner.Run(ctx, f)
	finishErr := s.store.Finish(f)

	if result != nil {
		recordExits(ctx, result)
	}
	if runErr != nil {
		if result != nil && result.Anomalous() {
			logging.Ctx(ctx).Warn().
				Int("producer_exit", result.Producer.Code).
				Msg("Compressor succeeded after dump producer failed; artifact discarded")
		}
		return "", 0, fmt.Errorf("%w: %w", ErrRunFailed, runErr)
	}
	if finishErr != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrRunFailed, finishErr)
	}

	var size int64
	if info, err := os.Stat(filepath.Join(s.store.Dir(), tempName)); err == nil {
		size = info.Size()
	}

	finalName, err := s.store.Publish(tempName)
	if err != nil {
		return "", 0, err
	}
	return finalName, size, nil
}

// recordExits logs and counts each stage's exit. Stderr is only logged for
// failed stages.
func recordExits(ctx context.Context, result *pipeline.Result) {
	for _, exit := range []pipeline.Exit{result.Producer, result.Consumer} {
		outcome := "success"
		if !exit.OK() {
			outcome = "failure"
			event := logging.Ctx(ctx).Warn().
				Str("stage", exit.Stage).
				Int("exit_code", exit.Code)
			if exit.Err != nil {
				event = event.Err(exit.Err)
			}
			if exit.Stderr != "" {
				event = event.Str("stderr", exit.Stderr)
			}
			event.Msg("Backup stage failed")
		}
		metrics.StageExitsTotal.WithLabelValues(exit.Stage, outcome).Inc()
	}
}
