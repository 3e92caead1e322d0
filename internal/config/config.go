// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/tomtom215/pgbackupd/internal/backup"
	"github.com/tomtom215/pgbackupd/internal/dbconn"
	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/pipeline"
	"github.com/tomtom215/pgbackupd/internal/scheduler"
	"github.com/tomtom215/pgbackupd/internal/validation"
)

// BackupDirName is the directory under storage.root that holds artifacts.
const BackupDirName = "backups"

// Config is the complete process configuration.
type Config struct {
	Backup   BackupConfig   `koanf:"backup"`
	Database DatabaseConfig `koanf:"database"`
	Storage  StorageConfig  `koanf:"storage"`
	Worker   WorkerConfig   `koanf:"worker"`
	Lock     LockConfig     `koanf:"lock"`
	Tools    ToolsConfig    `koanf:"tools"`
	Server   ServerConfig   `koanf:"server"`
	Events   EventsConfig   `koanf:"events"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// BackupConfig groups backup policies by target.
type BackupConfig struct {
	Database DatabaseBackupConfig `koanf:"database"`
}

// DatabaseBackupConfig is the database backup policy.
type DatabaseBackupConfig struct {
	CronExpression string        `koanf:"cron_expression" validate:"cron"`
	Enabled        bool          `koanf:"enabled"`
	KeepLastAmount uint          `koanf:"keep_last_amount" validate:"min=1"`
	Timeout        time.Duration `koanf:"timeout" validate:"gte=0"` // 0 disables the bound
}

// DatabaseConfig describes how to reach the database being backed up.
type DatabaseConfig struct {
	ConnectionType string `koanf:"connection_type" validate:"oneof=url host"`
	URL            string `koanf:"url" validate:"required_if=ConnectionType url,omitempty,url"`
	Username       string `koanf:"username" validate:"required_if=ConnectionType host"`
	Host           string `koanf:"host" validate:"required_if=ConnectionType host"`
	Password       string `koanf:"password"`
}

type StorageConfig struct {
	Root string `koanf:"root" validate:"required"`
}

type WorkerConfig struct {
	Role string `koanf:"role" validate:"oneof=microservices api"`
}

// LockConfig selects and configures the backup duty lock.
type LockConfig struct {
	Provider   string        `koanf:"provider" validate:"oneof=postgres nats static"`
	Name       string        `koanf:"name" validate:"required"`
	NATSURL    string        `koanf:"nats_url" validate:"required_if=Provider nats"`
	NATSBucket string        `koanf:"nats_bucket"`
	NATSTTL    time.Duration `koanf:"nats_ttl"`
}

type ToolsConfig struct {
	DumpPath     string `koanf:"dump_path" validate:"required"`
	CompressPath string `koanf:"compress_path" validate:"required"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins is YAML-only; empty disables CORS.
	CORSOrigins []string `koanf:"cors_origins" validate:"omitempty,dive,url"`
}

// EventsConfig enables publishing backup run events to NATS.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	NATSURL string `koanf:"nats_url" validate:"required_if=Enabled true"`
	Topic   string `koanf:"topic" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks c. Field rules live in struct tags; cross-field rules here.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not a valid log level", c.Logging.Level)
	}
	if _, err := c.Connection().PgxConfig(0); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Policy returns the backup policy snapshot.
func (c *Config) Policy() backup.Policy {
	return backup.Policy{
		CronExpression: c.Backup.Database.CronExpression,
		Enabled:        c.Backup.Database.Enabled,
		KeepLastAmount: c.Backup.Database.KeepLastAmount,
	}
}

// Connection returns the database connection parameters.
func (c *Config) Connection() dbconn.Params {
	return dbconn.Params{
		Type:     dbconn.Type(c.Database.ConnectionType),
		URL:      c.Database.URL,
		Username: c.Database.Username,
		Host:     c.Database.Host,
		Password: c.Database.Password,
	}
}

// BackupDir is where artifacts are written.
func (c *Config) BackupDir() string {
	return filepath.Join(c.Storage.Root, BackupDirName)
}

func (c *Config) PipelineTools() pipeline.Tools {
	return pipeline.Tools{
		DumpPath:     c.Tools.DumpPath,
		CompressPath: c.Tools.CompressPath,
	}
}

func (c *Config) Role() scheduler.Role {
	return scheduler.Role(c.Worker.Role)
}

// LoggingConfig converts to the logging package's configuration.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Caller: c.Logging.Caller,
	}
}

// ServerAddr is the listen address of the admin HTTP server.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
