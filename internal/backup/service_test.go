// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/pgbackupd/internal/dbconn"
	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/pipeline"
)

func newTestService(env *testEnv, keep uint, factory RunnerFactory) *Service {
	policy := DefaultPolicy()
	policy.KeepLastAmount = keep
	return NewService(env.store, ServiceConfig{
		Policy:     policy,
		Connection: dbconn.Params{Type: dbconn.TypeURL, URL: "postgres://postgres:pw@db/immich"},
	}, WithRunnerFactory(factory))
}

func TestServiceRunSuccessPublishes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	svc := newTestService(env, 5, fakeRunner("dump-bytes", 0, 0))

	if status := svc.Run(context.Background()); status != JobStatusSuccess {
		t.Fatalf("Run() = %s, want success", status)
	}

	names := env.names(t)
	if len(names) != 1 {
		t.Fatalf("directory = %v, want exactly one artifact", names)
	}
	if !IsFinalName(names[0]) {
		t.Errorf("artifact %q is not a final name", names[0])
	}
	data, err := os.ReadFile(filepath.Join(env.backupDir, names[0]))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "dump-bytes" {
		t.Errorf("artifact content = %q", data)
	}
}

func TestServiceRunProducerFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.touch(t, "immich-db-backup-1.sql.gz")

	// The compressor exits zero; the producer's failure must still fail the run.
	svc := newTestService(env, 5, fakeRunner("truncated", 1, 0))

	if status := svc.Run(context.Background()); status != JobStatusFailed {
		t.Fatalf("Run() = %s, want failed", status)
	}

	// The failed run's temporary artifact is swept; the older backup survives.
	names := env.names(t)
	if len(names) != 1 || names[0] != "immich-db-backup-1.sql.gz" {
		t.Errorf("directory = %v, want only the prior artifact", names)
	}
}

func TestServiceRunConsumerFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	svc := newTestService(env, 5, fakeRunner("data", 0, 2))

	if err := svc.Job(context.Background()); !errors.Is(err, ErrRunFailed) {
		t.Fatalf("Job() error = %v, want ErrRunFailed", err)
	}
	for _, name := range env.names(t) {
		if IsTempName(name) || IsFinalName(name) {
			t.Errorf("unexpected artifact after failed run: %s", name)
		}
	}
}

func TestServiceRunAppliesRetention(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	// Fixtures predate the run so the fresh artifact sorts newest.
	env.touch(t,
		"immich-db-backup-1600000000001.sql.gz",
		"immich-db-backup-1600000000002.sql.gz",
		"immich-db-backup-1600000000003.sql.gz.tmp",
	)
	svc := newTestService(env, 2, fakeRunner("x", 0, 0))

	if status := svc.Run(context.Background()); status != JobStatusSuccess {
		t.Fatalf("Run() = %s, want success", status)
	}

	names := env.names(t)
	if len(names) != 2 {
		t.Fatalf("directory = %v, want 2 artifacts", names)
	}
	if names[0] != "immich-db-backup-1600000000002.sql.gz" {
		t.Errorf("oldest surviving artifact = %s, want immich-db-backup-1600000000002.sql.gz", names[0])
	}
	for _, name := range names {
		if IsTempName(name) {
			t.Errorf("temporary artifact survived the sweep: %s", name)
		}
	}
}

func TestServiceSetPolicy(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	svc := newTestService(env, 5, fakeRunner("x", 0, 0))

	updated := Policy{CronExpression: "30 3 * * *", Enabled: false, KeepLastAmount: 1}
	svc.SetPolicy(updated)
	if got := svc.Policy(); got != updated {
		t.Errorf("Policy() = %+v, want %+v", got, updated)
	}

	env.touch(t, "immich-db-backup-1600000000001.sql.gz", "immich-db-backup-1600000000002.sql.gz")
	if status := svc.Run(context.Background()); status != JobStatusSuccess {
		t.Fatalf("Run() = %s", status)
	}
	names := env.names(t)
	if len(names) != 1 || strings.HasPrefix(names[0], "immich-db-backup-16") {
		t.Errorf("directory = %v, want only the fresh artifact under updated policy", names)
	}
}

func TestServiceRunTimeout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	hanging := func(pipeline.Tools, dbconn.Params) Runner {
		stage := func(label string) *pipeline.FuncStage {
			return &pipeline.FuncStage{
				Label: label,
				Fn: func(ctx context.Context, _ io.Reader, _, _ io.Writer) int {
					<-ctx.Done()
					return -1
				},
			}
		}
		return &pipeline.Pipeline{Producer: stage("producer"), Consumer: stage("consumer")}
	}

	svc := NewService(env.store, ServiceConfig{
		Policy:  DefaultPolicy(),
		Timeout: 50 * time.Millisecond,
	}, WithRunnerFactory(hanging))

	done := make(chan JobStatus, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case status := <-done:
		if status != JobStatusFailed {
			t.Errorf("Run() = %s, want failed", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not honor the timeout")
	}
}

func TestServiceDefaultsTools(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	var captured pipeline.Tools
	svc := NewService(env.store, ServiceConfig{Policy: DefaultPolicy()},
		WithRunnerFactory(func(tools pipeline.Tools, conn dbconn.Params) Runner {
			captured = tools
			return fakeRunner("", 0, 0)(tools, conn)
		}))

	svc.Run(context.Background())
	if captured.DumpPath != "pg_dumpall" || !strings.HasSuffix(captured.CompressPath, "gzip") {
		t.Errorf("tools = %+v, want pg_dumpall and gzip", captured)
	}
}

func TestServiceRunKeepsCorrelationID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	var got string
	svc := NewService(env.store, ServiceConfig{
		Policy:     DefaultPolicy(),
		Connection: dbconn.Params{Type: dbconn.TypeURL, URL: "postgres://postgres:pw@db/immich"},
	}, WithRunnerFactory(fakeRunner("payload", 0, 0)), WithRunObserver(func(ctx context.Context, r RunReport) {
		if ctxID := logging.CorrelationIDFromContext(ctx); ctxID != r.CorrelationID {
			t.Errorf("observer context ID %q != report ID %q", ctxID, r.CorrelationID)
		}
		got = r.CorrelationID
	}))

	ctx := logging.ContextWithCorrelationID(context.Background(), "manual-run-7f3e")
	if status := svc.Run(ctx); status != JobStatusSuccess {
		t.Fatalf("Run() = %s, want success", status)
	}
	if got != "manual-run-7f3e" {
		t.Errorf("report CorrelationID = %q, want %q", got, "manual-run-7f3e")
	}
}

func TestServiceRunObservers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		runner     RunnerFactory
		wantStatus JobStatus
	}{
		{"success", fakeRunner("payload", 0, 0), JobStatusSuccess},
		{"failure", fakeRunner("partial", 1, 0), JobStatusFailed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			var reports []RunReport
			svc := NewService(env.store, ServiceConfig{
				Policy:     DefaultPolicy(),
				Connection: dbconn.Params{Type: dbconn.TypeURL, URL: "postgres://postgres:pw@db/immich"},
			}, WithRunnerFactory(tt.runner), WithRunObserver(func(_ context.Context, r RunReport) {
				reports = append(reports, r)
			}))

			svc.Run(context.Background())

			if len(reports) != 1 {
				t.Fatalf("observer called %d times, want 1", len(reports))
			}
			r := reports[0]
			if r.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", r.Status, tt.wantStatus)
			}
			if r.CorrelationID == "" {
				t.Error("CorrelationID is empty")
			}
			if r.FinishedAt.IsZero() {
				t.Error("FinishedAt is zero")
			}
			switch tt.wantStatus {
			case JobStatusSuccess:
				if !IsFinalName(r.Artifact) || r.SizeBytes != int64(len("payload")) || r.Err != nil {
					t.Errorf("success report = %+v", r)
				}
			case JobStatusFailed:
				if r.Artifact != "" || !errors.Is(r.Err, ErrRunFailed) {
					t.Errorf("failure report = %+v", r)
				}
			}
		})
	}
}
