// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/pgbackupd/internal/backup"
	"github.com/tomtom215/pgbackupd/internal/dbconn"
	"github.com/tomtom215/pgbackupd/internal/scheduler"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration is invalid: %v", err)
	}
	if got := cfg.Policy(); got != backup.DefaultPolicy() {
		t.Errorf("Policy() = %+v, want %+v", got, backup.DefaultPolicy())
	}
	if cfg.Backup.Database.Timeout != backup.DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Backup.Database.Timeout, backup.DefaultTimeout)
	}
	if cfg.Role() != scheduler.RoleMicroservices {
		t.Errorf("Role() = %q, want microservices", cfg.Role())
	}
	if cfg.BackupDir() != filepath.Join("/data", "backups") {
		t.Errorf("BackupDir() = %q", cfg.BackupDir())
	}
	if tools := cfg.PipelineTools(); tools.DumpPath != "pg_dumpall" || tools.CompressPath != "gzip" {
		t.Errorf("PipelineTools() = %+v", tools)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
backup:
  database:
    cron_expression: "30 3 * * *"
    enabled: false
    keep_last_amount: 3
    timeout: 90m
database:
  connection_type: host
  username: immich
  host: db.internal
  password: s3cret
storage:
  root: /srv/immich
worker:
  role: api
lock:
  provider: static
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	want := backup.Policy{CronExpression: "30 3 * * *", Enabled: false, KeepLastAmount: 3}
	if got := cfg.Policy(); got != want {
		t.Errorf("Policy() = %+v, want %+v", got, want)
	}
	if cfg.Backup.Database.Timeout != 90*time.Minute {
		t.Errorf("Timeout = %v, want 90m", cfg.Backup.Database.Timeout)
	}
	conn := cfg.Connection()
	if conn.Type != dbconn.TypeHost || conn.Username != "immich" || conn.Host != "db.internal" || conn.Password != "s3cret" {
		t.Errorf("Connection() = %+v", conn)
	}
	if cfg.BackupDir() != filepath.Join("/srv/immich", "backups") {
		t.Errorf("BackupDir() = %q", cfg.BackupDir())
	}
	if cfg.Role() != scheduler.RoleAPI {
		t.Errorf("Role() = %q, want api", cfg.Role())
	}
	if cfg.Lock.Provider != "static" {
		t.Errorf("Lock.Provider = %q, want static", cfg.Lock.Provider)
	}
	// Untouched sections keep defaults.
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want 3001", cfg.Server.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
backup:
  database:
    cron_expression: "30 3 * * *"
    keep_last_amount: 3
`)
	t.Setenv("BACKUP_CRON_EXPRESSION", "0 4 * * *")
	t.Setenv("BACKUP_KEEP_LAST_AMOUNT", "7")
	t.Setenv("BACKUP_ENABLED", "false")
	t.Setenv("DB_URL", "postgres://immich:pw@db:5432/immich")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	want := backup.Policy{CronExpression: "0 4 * * *", Enabled: false, KeepLastAmount: 7}
	if got := cfg.Policy(); got != want {
		t.Errorf("Policy() = %+v, want %+v", got, want)
	}
	if cfg.Database.URL != "postgres://immich:pw@db:5432/immich" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.LoggingConfig().Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.LoggingConfig().Level)
	}
}

func TestLoadFromValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid cron",
			yaml:    "backup:\n  database:\n    cron_expression: not-a-cron\n",
			wantErr: "backup.database.cron_expression",
		},
		{
			name:    "keep zero",
			yaml:    "backup:\n  database:\n    keep_last_amount: 0\n",
			wantErr: "backup.database.keep_last_amount",
		},
		{
			name:    "host mode without host",
			yaml:    "database:\n  connection_type: host\n  username: immich\n",
			wantErr: "database.host",
		},
		{
			name:    "unknown connection type",
			yaml:    "database:\n  connection_type: socket\n",
			wantErr: "database.connection_type",
		},
		{
			name:    "unknown role",
			yaml:    "worker:\n  role: web\n",
			wantErr: "worker.role",
		},
		{
			name:    "unknown lock provider",
			yaml:    "lock:\n  provider: redis\n",
			wantErr: "lock.provider",
		},
		{
			name:    "events enabled without topic",
			yaml:    "events:\n  enabled: true\n  topic: \"\"\n",
			wantErr: "events.topic",
		},
		{
			name:    "bad log level",
			yaml:    "logging:\n  level: loud\n",
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("LoadFrom() accepted an invalid configuration")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFrom() with a missing file succeeded")
	}
}

func TestFindConfigFile(t *testing.T) {
	path := writeConfig(t, "worker:\n  role: api\n")
	t.Setenv(ConfigPathEnvVar, path)

	if got := findConfigFile(); got != path {
		t.Errorf("findConfigFile() = %q, want %q", got, path)
	}
	if got := ResolvePath(""); got != path {
		t.Errorf("ResolvePath(\"\") = %q, want %q", got, path)
	}
	if got := ResolvePath("/explicit.yaml"); got != "/explicit.yaml" {
		t.Errorf("ResolvePath() = %q, want the explicit path", got)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"BACKUP_CRON_EXPRESSION": "backup.database.cron_expression",
		"DB_HOSTNAME":            "database.host",
		"PG_DUMPALL_PATH":        "tools.dump_path",
		"NATS_URL":               "lock.nats_url",
		"HOME":                   "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
