// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

// Package backup owns the on-disk catalog of database backup artifacts and the
// run that produces them.
//
// # Overview
//
// A backup run streams the output of an external dump-and-compress pipeline
// straight into a temporary artifact, publishes it with a single rename, and
// then sweeps the backup directory according to the retention policy:
//
//	┌──────────────┐   ┌──────────────┐   ┌──────────────┐   ┌──────────────┐
//	│ Store.Create │──▶│ pipeline.Run │──▶│ Store.Publish│──▶│ Cleaner.Sweep│
//	│  (*.tmp)     │   │ dump | gzip  │   │  (rename)    │   │  (always)    │
//	└──────────────┘   └──────────────┘   └──────────────┘   └──────────────┘
//
// # Artifact Naming
//
// Artifacts are named immich-db-backup-<unixMillis>.sql.gz. While a run is in
// flight the file carries an additional .tmp suffix. Because the numeric field
// is a fixed-origin millisecond timestamp surrounded by constant text, sorting
// names lexicographically is the same as sorting them chronologically. The
// retention sweep relies on this and never parses the timestamp.
//
// # Artifact States
//
//	in_progress - .tmp file created by the run currently executing
//	complete    - final name, published by rename
//	orphaned    - .tmp file left behind by a failed or crashed run
//
// Only Store mutates files in the backup directory. Cleaner deletes through
// Store.Delete.
//
// # Retention
//
// Every sweep deletes all temporary artifacts, keeps the KeepLastAmount newest
// complete artifacts and deletes the rest. Files that do not match either
// naming pattern are never touched. A failed delete is logged and the sweep
// continues with the remaining candidates.
//
// # Usage
//
//	store, err := backup.NewStore("/data/backups")
//	if err != nil {
//		return err
//	}
//	svc := backup.NewService(store, backup.ServiceConfig{
//		Policy:     policy,
//		Connection: conn,
//		Tools:      pipeline.DefaultTools(),
//	})
//	status := svc.Run(ctx)
package backup
