// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package supervisor provides process supervision for pgbackupd using suture v4.

# Overview

Long-running components are organized into three layers:

	RootSupervisor ("pgbackupd")
	├── JobsSupervisor ("jobs-layer")
	│   └── jobs.Queue (single consumer, runs backups)
	├── ControlSupervisor ("control-layer")
	│   ├── SchedulerService (cron loop, only registers on the duty owner)
	│   └── config.Watcher (hot reload of the backup policy)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (admin surface, if server.enabled)

Each layer restarts its own services with backoff. Supervisor events are
logged through sutureslog into the zerolog logger.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddJobsService(queue)
	tree.AddControlService(services.NewSchedulerService(sched))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err = tree.Serve(ctx)

# Shutdown

Cancelling the context stops every layer. Services get ShutdownTimeout to
return; a backup still running after that is reported by
UnstoppedServiceReport and its processes are killed with the job context.
*/
package supervisor
