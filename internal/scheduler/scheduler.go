// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package scheduler drives scheduled database backups from a cron expression.

The scheduler owns a single cron registration named backupDatabase. Its only
job on a tick is to enqueue that job; running it is the job queue's business,
which also guarantees two runs never overlap.

Registration is gated twice. OnBootstrap registers only on the designated
worker role (microservices) and only when the instance holds the backup duty
lock. An instance that does not hold the duty stays unregistered for its whole
lifetime, and ApplyPolicy calls are ignored there.

States:

	unregistered --OnBootstrap (role ok, duty held)--> scheduled
	scheduled    --ApplyPolicy-->                       scheduled

A disabled policy keeps the registration but removes the cron entry, so
re-enabling it later only needs another ApplyPolicy.
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pgbackupd/internal/backup"
	"github.com/tomtom215/pgbackupd/internal/lock"
	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/metrics"
)

// JobName is the name of the backup job on the queue and the cron registration.
const JobName = "backupDatabase"

// Role identifies what a worker process is for.
type Role string

const (
	// RoleMicroservices is the worker role that runs background jobs.
	RoleMicroservices Role = "microservices"

	// RoleAPI serves requests only.
	RoleAPI Role = "api"
)

// State of the backup cron registration.
type State string

const (
	StateUnregistered State = "unregistered"
	StateScheduled    State = "scheduled"
)

var (
	// ErrInvalidCron is returned for a cron expression that does not parse.
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrNotOwner is returned when a backup is requested on an instance that
	// does not hold the backup duty.
	ErrNotOwner = errors.New("instance does not hold the backup duty")
)

// Enqueuer accepts named jobs for asynchronous execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string) error
}

// Status is a point-in-time view of the registration.
type Status struct {
	State          State     `json:"state"`
	DutyHeld       bool      `json:"duty_held"`
	CronExpression string    `json:"cron_expression,omitempty"`
	Enabled        bool      `json:"enabled"`
	NextRun        time.Time `json:"next_run,omitempty"`
}

// Scheduler registers the backup cron job on the owning instance.
type Scheduler struct {
	duty   lock.Duty
	queue  Enqueuer
	cron   *cron.Cron
	logger zerolog.Logger
	nowFn  func() time.Time

	mu         sync.Mutex
	registered bool
	policy     backup.Policy
	entryID    cron.EntryID
	baseCtx    context.Context
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLocation evaluates cron expressions in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.cron = newCron(s.logger, loc)
	}
}

// New creates a scheduler gated by duty that enqueues on queue.
func New(duty lock.Duty, queue Enqueuer, opts ...Option) *Scheduler {
	logger := logging.WithComponent("scheduler")
	s := &Scheduler{
		duty:    duty,
		queue:   queue,
		logger:  logger,
		nowFn:   time.Now,
		cron:    newCron(logger, time.Local),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newCron(logger zerolog.Logger, loc *time.Location) *cron.Cron {
	cl := cronLogger{logger: logger}
	return cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// OnBootstrap registers the backup job when role is the microservices role
// and the duty is held. In every other case it does nothing and the
// scheduler stays unregistered.
func (s *Scheduler) OnBootstrap(ctx context.Context, role Role, policy backup.Policy) error {
	if role != RoleMicroservices {
		s.logger.Debug().Str("role", string(role)).Msg("Worker role does not schedule backups")
		return nil
	}
	if !s.duty.Held() {
		s.logger.Info().Str("lock", s.duty.Name()).Msg("Backup duty not held; database backups will not be scheduled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}
	if err := s.install(policy); err != nil {
		return err
	}
	// Cron callbacks run long after bootstrap; keep values, drop cancellation.
	s.baseCtx = context.WithoutCancel(ctx)
	s.registered = true

	s.logger.Info().
		Str("cron_expression", policy.CronExpression).
		Bool("enabled", policy.Enabled).
		Msg("Database backup job registered")
	return nil
}

// ApplyPolicy reconfigures the live registration. It is ignored when the
// duty is not held, when nothing was registered, or when hadPrior is false
// (the first configuration observed at startup, already applied by
// OnBootstrap). Only the backup entry is touched.
func (s *Scheduler) ApplyPolicy(policy backup.Policy, hadPrior bool) error {
	if !s.duty.Held() || !hadPrior {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered {
		return nil
	}
	if policy == s.policy {
		return nil
	}
	if err := s.install(policy); err != nil {
		return err
	}

	s.logger.Info().
		Str("cron_expression", policy.CronExpression).
		Bool("enabled", policy.Enabled).
		Msg("Database backup schedule updated")
	return nil
}

// install validates policy and swaps the cron entry. Must hold s.mu. On a
// validation error nothing changes.
func (s *Scheduler) install(policy backup.Policy) error {
	schedule, err := parseSchedule(policy.CronExpression)
	if err != nil {
		return err
	}

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
	if policy.Enabled {
		s.entryID = s.cron.Schedule(schedule, cron.FuncJob(s.fire))
	}
	s.policy = policy

	metrics.SetBool(metrics.ScheduleEnabled, policy.Enabled)
	if policy.Enabled {
		metrics.SetTimestamp(metrics.ScheduleNextRunTimestamp, schedule.Next(s.nowFn()))
	} else {
		metrics.SetTimestamp(metrics.ScheduleNextRunTimestamp, time.Time{})
	}
	return nil
}

// fire is the cron callback: it only enqueues.
func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	if err := s.queue.Enqueue(ctx, JobName); err != nil {
		s.logger.Warn().Err(err).Str("job", JobName).Msg("Scheduled backup not enqueued")
		return
	}
	s.logger.Debug().Str("job", JobName).Msg("Scheduled backup enqueued")

	if next := s.Status().NextRun; !next.IsZero() {
		metrics.SetTimestamp(metrics.ScheduleNextRunTimestamp, next)
	}
}

// Trigger enqueues an immediate backup, outside the schedule. Only the
// instance that holds the duty and registered the job may do so.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.duty.Held() || s.State() != StateScheduled {
		return ErrNotOwner
	}
	return s.queue.Enqueue(ctx, JobName)
}

// State returns the registration state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered {
		return StateScheduled
	}
	return StateUnregistered
}

// Status returns the registration state and the next run time, if any.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: StateUnregistered, DutyHeld: s.duty.Held()}
	if !s.registered {
		return st
	}
	st.State = StateScheduled
	st.CronExpression = s.policy.CronExpression
	st.Enabled = s.policy.Enabled
	if s.entryID != 0 {
		entry := s.cron.Entry(s.entryID)
		st.NextRun = entry.Next
		if st.NextRun.IsZero() && entry.Schedule != nil {
			// cron has not started yet
			st.NextRun = entry.Schedule.Next(s.nowFn())
		}
	}
	return st
}

// Start starts the cron loop. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops the cron loop and waits for a running callback to return.
func (s *Scheduler) Stop() error {
	<-s.cron.Stop().Done()
	return nil
}

// String implements fmt.Stringer.
func (s *Scheduler) String() string {
	return fmt.Sprintf("scheduler(%s)", s.State())
}
