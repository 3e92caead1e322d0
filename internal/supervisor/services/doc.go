// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package services adapts pgbackupd components to suture's Serve pattern.

	SchedulerService   Start(ctx) / Stop() components, such as the backup scheduler
	HTTPServerService  *http.Server with graceful shutdown

Components that already implement Serve(ctx) error (jobs.Queue,
config.Watcher) are added to the tree directly.
*/
package services
