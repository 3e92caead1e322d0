// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package api provides the admin HTTP API for pgbackupd.

The API is small and operational. It reports health, lists backup artifacts,
shows the backup schedule and lets an operator request an immediate backup.
It never runs a backup itself: a manual run is enqueued on the same job queue
the cron schedule uses, so it cannot overlap a scheduled run.

Endpoints:

	GET  /api/v1/health/live        process is up
	GET  /api/v1/health/ready       backup directory readable, schedule status
	GET  /api/v1/backups            artifacts, newest first (?state= filter)
	GET  /api/v1/backups/schedule   registration state and next run
	POST /api/v1/backups/run        enqueue a backup now (202 Accepted)
	GET  /metrics                   Prometheus metrics

All /api/v1 responses use the APIResponse envelope:

	{
	  "success": true,
	  "data": {...},
	  "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 1}
	}

Errors carry a machine-readable code (see the ErrCode constants):

	{"success": false, "error": {"code": "NOT_OWNER", "message": "..."}}

POST /api/v1/backups/run is rate limited per client IP with go-chi/httprate.
*/
package api
