// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package pipeline

import (
	"os"

	"github.com/tomtom215/pgbackupd/internal/dbconn"
)

// Stage labels used in logs, metrics and errors.
const (
	ProducerLabel = "pg_dumpall"
	ConsumerLabel = "gzip"
)

// Tools holds the executable paths of the dump producer and the compressor.
type Tools struct {
	DumpPath     string
	CompressPath string
}

// DefaultTools resolves both executables through PATH.
func DefaultTools() Tools {
	return Tools{DumpPath: "pg_dumpall", CompressPath: "gzip"}
}

// DumpArgs returns the producer arguments for conn. The password is never
// part of the arguments; see DumpEnv.
func DumpArgs(conn dbconn.Params) []string {
	if conn.IsURL() {
		return []string{conn.URL, "--clean", "--if-exists"}
	}
	return []string{"-U", conn.Username, "-h", conn.Host, "--clean", "--if-exists"}
}

// DumpEnv returns the complete producer environment: PATH, plus PGPASSWORD
// in host mode.
func DumpEnv(conn dbconn.Params) []string {
	env := []string{"PATH=" + os.Getenv("PATH")}
	if !conn.IsURL() && conn.Password != "" {
		env = append(env, "PGPASSWORD="+conn.Password)
	}
	return env
}

// NewDump builds the dump-and-compress pipeline for conn.
func NewDump(tools Tools, conn dbconn.Params) *Pipeline {
	return &Pipeline{
		Producer: &Command{
			Label: ProducerLabel,
			Path:  tools.DumpPath,
			Args:  DumpArgs(conn),
			Env:   DumpEnv(conn),
		},
		Consumer: &Command{
			Label: ConsumerLabel,
			Path:  tools.CompressPath,
			Env:   []string{"PATH=" + os.Getenv("PATH")},
		},
	}
}
