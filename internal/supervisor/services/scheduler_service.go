// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package services

import (
	"context"
	"fmt"
)

// StartStopper is a component with a non-blocking Start and a blocking Stop.
// *scheduler.Scheduler satisfies it.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService runs a StartStopper under supervision: Start, wait for
// cancellation, Stop.
type SchedulerService struct {
	manager StartStopper
	name    string
}

// NewSchedulerService wraps the backup scheduler.
func NewSchedulerService(manager StartStopper) *SchedulerService {
	return &SchedulerService{
		manager: manager,
		name:    "backup-scheduler",
	}
}

// Serve implements suture.Service. A Start error is returned so suture
// restarts the service with backoff.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *SchedulerService) String() string {
	return s.name
}
