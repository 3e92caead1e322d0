// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/tomtom215/pgbackupd/internal/dbconn"
	"github.com/tomtom215/pgbackupd/internal/pipeline"
)

// testEnv holds a store rooted in a temporary backup directory
type testEnv struct {
	backupDir string
	store     *Store
}

// newTestEnv creates a store in a fresh temp directory
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backupDir := filepath.Join(t.TempDir(), "backups")
	store, err := NewStore(backupDir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return &testEnv{backupDir: backupDir, store: store}
}

// touch creates files with the given names in the backup directory
func (e *testEnv) touch(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(e.backupDir, name), []byte(name), 0o600); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}
}

// names returns the sorted directory listing
func (e *testEnv) names(t *testing.T) []string {
	t.Helper()
	names, err := e.store.Names()
	if err != nil {
		t.Fatalf("Names() error = %v", err)
	}
	slices.Sort(names)
	return names
}

// fixedClock returns a clock that always reports the same instant
func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

// fakeRunner builds a two-stage pipeline out of in-process stages
func fakeRunner(payload string, producerCode, consumerCode int) RunnerFactory {
	return func(pipeline.Tools, dbconn.Params) Runner {
		return &pipeline.Pipeline{
			Producer: &pipeline.FuncStage{
				Label: pipeline.ProducerLabel,
				Fn: func(_ context.Context, _ io.Reader, stdout, stderr io.Writer) int {
					_, _ = io.WriteString(stdout, payload)
					if producerCode != 0 {
						_, _ = io.WriteString(stderr, "pg_dumpall: error: connection to server failed\n")
					}
					return producerCode
				},
			},
			Consumer: &pipeline.FuncStage{
				Label: pipeline.ConsumerLabel,
				Fn: func(_ context.Context, stdin io.Reader, stdout, _ io.Writer) int {
					if _, err := io.Copy(stdout, stdin); err != nil {
						return 1
					}
					return consumerCode
				},
			},
		}
	}
}
