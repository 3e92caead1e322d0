// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

//go:build integration

// Package testinfra starts throwaway PostgreSQL servers for integration tests.
//
// Everything here is behind the integration build tag and needs a Docker
// daemon; tests call SkipIfNoDocker first so they degrade to a skip.
//
//	func TestAdvisoryLock(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, pg)
//
//	    provider := lock.NewPostgresProvider(pg.Params())
//	}
//
// Run with:
//
//	go test -tags integration ./...
package testinfra
