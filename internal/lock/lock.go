// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package lock elects the single instance responsible for running backups.

Every pgbackupd instance tries once, at startup, to take a named lock from an
external provider. The outcome is captured in a Duty: an immutable token that
is handed to the scheduler at construction time. An instance whose Duty is not
held never registers or runs a backup, whatever its configuration says.

Acquisition fails closed. When the provider cannot be reached or returns an
error, Acquire logs a warning and returns a Duty that is not held; the
instance degrades to "does not back up" rather than risking two concurrent
dumps of the same database. A restart is needed to try again.

The lock is held for the process lifetime; nothing renews or releases it
except Provider.Close during shutdown.

Providers:
  - PostgresProvider: pg_try_advisory_lock on a dedicated connection to the
    backed-up database. The lock disappears with the connection.
  - NATSProvider: an exclusive create on a JetStream key-value bucket with a
    TTL, kept alive while the process runs.
  - StaticProvider: a fixed answer, for single-instance deployments and tests.
*/
package lock

import (
	"context"

	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/metrics"
)

// DefaultName is the lock name used for the backup duty.
const DefaultName = "backup-database"

// Provider is an external mutual-exclusion service.
type Provider interface {
	// TryLock attempts to take name without blocking. It reports whether the
	// lock was granted.
	TryLock(ctx context.Context, name string) (bool, error)

	// Close releases anything the provider holds, including a granted lock.
	Close(ctx context.Context) error
}

// Duty is the capability to run backups. The zero value is not held.
type Duty struct {
	name string
	held bool
}

// Held reports whether this instance owns the backup duty.
func (d Duty) Held() bool {
	return d.held
}

// Name returns the lock name the duty was requested under.
func (d Duty) Name() string {
	return d.name
}

// Acquire tries once to take the named lock. It never returns an error: any
// provider failure yields a Duty that is not held.
func Acquire(ctx context.Context, p Provider, name string) Duty {
	logger := logging.Ctx(ctx).With().Str("lock", name).Logger()

	held, err := p.TryLock(ctx, name)
	if err != nil {
		logger.Warn().Err(err).Msg("Lock provider unavailable; backups disabled on this instance")
		held = false
	} else if held {
		logger.Info().Msg("Acquired backup duty lock")
	} else {
		logger.Info().Msg("Backup duty lock held by another instance")
	}

	metrics.SetBool(metrics.BackupDutyHeld, held)
	return Duty{name: name, held: held}
}

// StaticProvider grants or denies every request.
type StaticProvider struct {
	Grant bool
}

// TryLock returns Grant.
func (s StaticProvider) TryLock(context.Context, string) (bool, error) {
	return s.Grant, nil
}

// Close does nothing.
func (StaticProvider) Close(context.Context) error {
	return nil
}
