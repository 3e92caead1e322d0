// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Command pgbackupd runs scheduled logical backups of a PostgreSQL cluster.

On a schedule (a cron expression) it streams pg_dumpall through gzip into a
temporary file, publishes the file under a timestamped name once both
processes exit cleanly, and keeps only the newest keep_last_amount backups.

# Startup

The process initializes in this order:

 1. Configuration: defaults, then the YAML file, then environment (Koanf v2)
 2. Logging: zerolog at the configured level and format
 3. Backup store: <storage.root>/backups is created when missing
 4. Backup duty: one attempt at the named lock (postgres, nats or static)
 5. Job queue: a single consumer for the backupDatabase job
 6. Scheduler: registers the cron job on the microservices role when the duty
    is held
 7. Supervisor tree: jobs, control (scheduler, config watcher) and api layers

The duty lock is taken once. An instance that loses it never schedules
backups until it restarts, even if the owner goes away.

# Hot Reload

When a config file is in use it is watched. A changed file is loaded and
validated as a whole; an invalid candidate is rejected and the running
schedule is left alone. Only backup.database.cron_expression, enabled,
keep_last_amount and logging.level apply live. Other sections are logged as
needing a restart.

# Flags

	-config path   YAML config file (also CONFIG_PATH)
	-validate      load and validate the configuration, then exit

# Signal Handling

SIGINT and SIGTERM stop the supervisor tree. A running backup is cancelled,
its temporary file is removed by the next retention sweep, and the duty lock
is released on the way out.

# Example Usage

	export DB_URL=postgres://postgres:secret@db:5432/immich
	export STORAGE_ROOT=/data
	export BACKUP_CRON_EXPRESSION="0 02 * * *"
	export BACKUP_KEEP_LAST_AMOUNT=14
	./pgbackupd

	curl -X POST http://localhost:3001/api/v1/backups/run
*/
package main
