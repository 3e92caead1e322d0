// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/pgbackupd/internal/api"
	"github.com/tomtom215/pgbackupd/internal/backup"
	"github.com/tomtom215/pgbackupd/internal/config"
	"github.com/tomtom215/pgbackupd/internal/jobs"
	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/scheduler"
	"github.com/tomtom215/pgbackupd/internal/supervisor"
	"github.com/tomtom215/pgbackupd/internal/supervisor/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const lockCloseTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default: search "+config.ConfigPathEnvVar+" and the default locations)")
	validateOnly := flag.Bool("validate", false, "validate the configuration and exit")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadFrom(path)
	if err != nil {
		// Default logger: config not yet available
		logging.Fatal().Err(err).Str("config_file", path).Msg("Failed to load configuration")
	}

	if *validateOnly {
		fmt.Fprintf(os.Stdout, "configuration valid (file: %q)\n", path)
		return
	}

	logging.Init(cfg.LoggingConfig())

	if err := run(cfg, path); err != nil {
		logging.Fatal().Err(err).Msg("pgbackupd stopped with an error")
	}
	logging.Info().Msg("pgbackupd stopped gracefully")
}

//nolint:gocyclo // sequential startup steps
func run(cfg *config.Config, path string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Info().
		Str("version", version).
		Str("config_file", path).
		Str("role", cfg.Worker.Role).
		Str("lock_provider", cfg.Lock.Provider).
		Str("backup_dir", cfg.BackupDir()).
		Msg("Starting pgbackupd")

	store, err := backup.NewStore(cfg.BackupDir())
	if err != nil {
		return fmt.Errorf("open backup store: %w", err)
	}

	provider, err := newLockProvider(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), lockCloseTimeout)
		defer closeCancel()
		if err := provider.Close(closeCtx); err != nil {
			logging.Warn().Err(err).Msg("Error releasing backup duty lock")
		}
	}()

	// Decided once per process lifetime.
	duty := acquireDuty(ctx, cfg.Role(), provider, cfg.Lock.Name)

	var svcOpts []backup.ServiceOption
	if cfg.Events.Enabled {
		publisher, err := newEventPublisher(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Warn().Err(err).Msg("Error closing event publisher")
			}
		}()
		svcOpts = append(svcOpts, backup.WithRunObserver(publisher.Observe))
		logging.Info().Str("topic", publisher.Topic()).Msg("Backup run events enabled")
	}

	svc := backup.NewService(store, backup.ServiceConfig{
		Policy:     cfg.Policy(),
		Connection: cfg.Connection(),
		Tools:      cfg.PipelineTools(),
		Timeout:    cfg.Backup.Database.Timeout,
	}, svcOpts...)

	queue := jobs.NewQueue()
	queue.Handle(scheduler.JobName, svc.Job)
	defer func() {
		if err := queue.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing job queue")
		}
	}()

	sched := scheduler.New(duty, queue)
	if err := sched.OnBootstrap(ctx, cfg.Role(), cfg.Policy()); err != nil {
		return fmt.Errorf("register database backup job: %w", err)
	}

	watcher := config.NewWatcher(path, cfg)
	watcher.OnReload(applyReload(sched, svc))

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddJobsService(queue)
	tree.AddControlService(services.NewSchedulerService(sched))
	tree.AddControlService(watcher)

	if cfg.Server.Enabled {
		routerCfg := api.DefaultRouterConfig()
		routerCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
		router := api.NewRouter(api.NewHandler(store, sched, handlerOptions(duty, provider)...), routerCfg)
		server := newHTTPServer(cfg.ServerAddr(), router, cfg.Server.Timeout)
		tree.AddAPIService(services.NewHTTPServerService(server, services.DefaultShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("Admin API enabled")
	}

	logging.Info().Msg("Starting supervisor tree")
	// The channel receives exactly one value and is never closed.
	runErr := <-tree.ServeBackground(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	} else if runErr != nil {
		logging.Error().Err(runErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport() //nolint:errcheck // report is best effort
	for _, u := range unstopped {
		logging.Warn().Str("service", u.Name).Msg("Service failed to stop within timeout")
	}

	return runErr
}
