// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package main

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/tomtom215/pgbackupd/internal/api"
	"github.com/tomtom215/pgbackupd/internal/backup"
	"github.com/tomtom215/pgbackupd/internal/config"
	"github.com/tomtom215/pgbackupd/internal/events"
	"github.com/tomtom215/pgbackupd/internal/lock"
	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/scheduler"
)

// newLockProvider builds the provider named by cfg.Lock.Provider. Nothing is
// contacted until the first TryLock.
func newLockProvider(cfg *config.Config) (lock.Provider, error) {
	switch cfg.Lock.Provider {
	case "postgres":
		return lock.NewPostgresProvider(cfg.Connection()), nil
	case "nats":
		return lock.NewNATSProvider(lock.NATSConfig{
			URL:    cfg.Lock.NATSURL,
			Bucket: cfg.Lock.NATSBucket,
			TTL:    cfg.Lock.NATSTTL,
		}), nil
	case "static":
		logging.Warn().Msg("Static lock provider: this instance always holds the backup duty")
		return lock.StaticProvider{Grant: true}, nil
	default:
		return nil, fmt.Errorf("unknown lock provider %q", cfg.Lock.Provider)
	}
}

// acquireDuty contests the backup duty lock, but only on the worker role
// that schedules backups. Other roles never touch the provider and get a
// duty that is not held.
func acquireDuty(ctx context.Context, role scheduler.Role, p lock.Provider, name string) lock.Duty {
	if role != scheduler.RoleMicroservices {
		logging.Debug().Str("role", string(role)).Msg("Worker role does not contest the backup duty")
		return lock.Duty{}
	}
	return lock.Acquire(ctx, p, name)
}

// handlerOptions adds the lock check to readiness when this instance holds
// the duty through a provider that can verify it.
func handlerOptions(duty lock.Duty, p lock.Provider) []api.HandlerOption {
	if !duty.Held() {
		return nil
	}
	if c, ok := p.(api.LockChecker); ok {
		return []api.HandlerOption{api.WithLockCheck(c)}
	}
	return nil
}

func newEventPublisher(cfg *config.Config) (*events.Publisher, error) {
	ecfg := events.DefaultConfig()
	ecfg.URL = cfg.Events.NATSURL
	ecfg.Topic = cfg.Events.Topic
	return events.NewNATSPublisher(ecfg)
}

func newHTTPServer(addr string, h http.Handler, timeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       60 * time.Second,
	}
}

// policyTarget is what a reload reconfigures live.
type policyTarget interface {
	ApplyPolicy(policy backup.Policy, hadPrior bool) error
}

type policyHolder interface {
	SetPolicy(p backup.Policy)
}

// applyReload returns the watcher callback. The candidate policy is validated
// before anything changes; the schedule is swapped first and the retention
// policy only after that succeeded.
func applyReload(sched policyTarget, svc policyHolder) config.ReloadFunc {
	return func(prev, next *config.Config) error {
		policy := next.Policy()
		if err := scheduler.ValidatePolicy(policy); err != nil {
			return err
		}
		if err := sched.ApplyPolicy(policy, true); err != nil {
			return fmt.Errorf("apply backup schedule: %w", err)
		}
		svc.SetPolicy(policy)

		if next.Logging.Level != prev.Logging.Level {
			logging.SetLevelString(next.Logging.Level)
		}
		if changed := restartOnlyChanges(prev, next); len(changed) > 0 {
			logging.Warn().Strs("sections", changed).Msg("Configuration changes take effect after a restart")
		}
		return nil
	}
}

// restartOnlyChanges lists config sections that changed but are only read
// at startup.
func restartOnlyChanges(prev, next *config.Config) []string {
	var changed []string
	if prev.Database != next.Database {
		changed = append(changed, "database")
	}
	if prev.Storage != next.Storage {
		changed = append(changed, "storage")
	}
	if prev.Worker != next.Worker {
		changed = append(changed, "worker")
	}
	if prev.Lock != next.Lock {
		changed = append(changed, "lock")
	}
	if prev.Tools != next.Tools {
		changed = append(changed, "tools")
	}
	if !reflect.DeepEqual(prev.Server, next.Server) {
		changed = append(changed, "server")
	}
	if prev.Events != next.Events {
		changed = append(changed, "events")
	}
	if prev.Backup.Database.Timeout != next.Backup.Database.Timeout {
		changed = append(changed, "backup.database.timeout")
	}
	return changed
}
