// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package config provides configuration loading and hot reload for pgbackupd.

# Configuration Sources

Sources are layered with Koanf, later layers winning:

 1. Built-in defaults (defaultConfig)
 2. Optional YAML file: $CONFIG_PATH, ./config.yaml, /etc/pgbackupd/config.yaml
 3. Mapped environment variables

# Configuration Structure

	backup:
	  database:
	    cron_expression: "0 02 * * *"
	    enabled: true
	    keep_last_amount: 14
	    timeout: 4h
	database:
	  connection_type: url        # url | host
	  url: postgres://immich:secret@db:5432/immich
	  username: ""
	  host: ""
	  password: ""
	storage:
	  root: /data
	worker:
	  role: microservices         # microservices | api
	lock:
	  provider: postgres          # postgres | nats | static
	  name: backup-database
	  nats_url: nats://127.0.0.1:4222
	  nats_bucket: pgbackupd_locks
	  nats_ttl: 30s
	tools:
	  dump_path: pg_dumpall
	  compress_path: gzip
	server:
	  enabled: true
	  host: 0.0.0.0
	  port: 3001
	  timeout: 30s
	  cors_origins: []           # YAML only
	events:
	  enabled: false
	  nats_url: nats://127.0.0.1:4222
	  topic: pgbackupd.backup.runs
	logging:
	  level: info
	  format: json
	  caller: false

# Environment Variables

  - BACKUP_CRON_EXPRESSION, BACKUP_ENABLED, BACKUP_KEEP_LAST_AMOUNT, BACKUP_TIMEOUT
  - DB_CONNECTION_TYPE, DB_URL, DB_USERNAME, DB_HOSTNAME, DB_PASSWORD
  - STORAGE_ROOT
  - WORKER_ROLE
  - LOCK_PROVIDER, LOCK_NAME, NATS_URL, LOCK_NATS_BUCKET, LOCK_NATS_TTL
  - PG_DUMPALL_PATH, GZIP_PATH
  - EVENTS_ENABLED, EVENTS_NATS_URL, EVENTS_TOPIC
  - HTTP_ENABLED, HTTP_HOST, HTTP_PORT
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

# Hot Reload

Watcher watches the YAML file. On change the whole configuration is reloaded
and validated; an invalid candidate is logged and dropped, so the running
schedule never sees it. Valid candidates are handed to the registered
callbacks with the previous configuration. Only the backup policy is applied
live; connection, lock and server settings take effect on restart.
*/
package config
