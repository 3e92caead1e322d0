// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

//go:build integration

package lock

import (
	"context"
	"testing"

	"github.com/tomtom215/pgbackupd/internal/testinfra"
)

func TestPostgresProviderAdvisoryLock(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx := context.Background()
	pg, err := testinfra.NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, pg)

	first := NewPostgresProvider(pg.Params())
	second := NewPostgresProvider(pg.Params())

	if !Acquire(ctx, first, DefaultName).Held() {
		t.Fatal("first instance did not acquire the advisory lock")
	}
	if err := first.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if Acquire(ctx, second, DefaultName).Held() {
		t.Fatal("second instance acquired a held advisory lock")
	}

	// A different lock name is independent.
	other := NewPostgresProvider(pg.Params())
	defer other.Close(ctx) //nolint:errcheck
	if !Acquire(ctx, other, "another-duty").Held() {
		t.Error("unrelated lock name was blocked")
	}

	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !Acquire(ctx, second, DefaultName).Held() {
		t.Error("lock not available after the owner closed its connection")
	}
	if err := second.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
