// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

// Package dbconn describes how to reach the PostgreSQL server being backed up.
//
// The same parameters feed two consumers: the dump producer, which receives
// them as command-line arguments plus a password environment variable, and
// the advisory lock provider, which opens a pgx connection with them.
package dbconn

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
)

// Type selects how connection parameters are supplied.
type Type string

const (
	// TypeURL passes a single connection URL.
	TypeURL Type = "url"

	// TypeHost passes explicit user and host; the password travels separately.
	TypeHost Type = "host"
)

// Params are the connection parameters of the backed-up database.
type Params struct {
	Type     Type
	URL      string
	Username string
	Host     string
	Password string
}

// IsURL reports whether the parameters use URL mode.
func (p Params) IsURL() bool {
	return p.Type == TypeURL
}

// Redacted returns a description safe for logs.
func (p Params) Redacted() string {
	if p.IsURL() {
		u, err := url.Parse(p.URL)
		if err != nil {
			return "url(unparseable)"
		}
		return u.Redacted()
	}
	return fmt.Sprintf("%s@%s", p.Username, p.Host)
}

// PgxConfig builds a pgx connection configuration for these parameters.
func (p Params) PgxConfig(connectTimeout time.Duration) (*pgx.ConnConfig, error) {
	if p.IsURL() {
		cfg, err := pgx.ParseConfig(p.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		if connectTimeout > 0 {
			cfg.ConnectTimeout = connectTimeout
		}
		return cfg, nil
	}

	// Empty DSN picks up libpq defaults (PGDATABASE, PGPORT, ...) from the environment.
	cfg, err := pgx.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("parse default database config: %w", err)
	}
	cfg.Host = p.Host
	cfg.User = p.Username
	cfg.Password = p.Password
	if connectTimeout > 0 {
		cfg.ConnectTimeout = connectTimeout
	}
	return cfg, nil
}
