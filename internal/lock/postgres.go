// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/pgbackupd/internal/dbconn"
)

const defaultConnectTimeout = 5 * time.Second

// PostgresProvider takes a session-level advisory lock on the backed-up
// database. The lock lives exactly as long as the connection that took it,
// so a crashed owner releases it implicitly.
type PostgresProvider struct {
	params         dbconn.Params
	connectTimeout time.Duration

	mu   sync.Mutex
	conn *pgx.Conn
	key  int64
}

// NewPostgresProvider creates a provider connecting with params.
func NewPostgresProvider(params dbconn.Params) *PostgresProvider {
	return &PostgresProvider{params: params, connectTimeout: defaultConnectTimeout}
}

// Key maps a lock name onto the bigint advisory lock key space.
func Key(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name)) //nolint:errcheck // hash writes never fail
	return int64(h.Sum64())      //nolint:gosec // wrap-around is intended
}

// TryLock opens a dedicated connection and runs pg_try_advisory_lock. On
// success the connection is kept open until Close.
func (p *PostgresProvider) TryLock(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return false, errors.New("advisory lock already requested by this provider")
	}

	cfg, err := p.params.PgxConfig(p.connectTimeout)
	if err != nil {
		return false, err
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return false, fmt.Errorf("connect for advisory lock: %w", err)
	}

	key := Key(name)
	var granted bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&granted); err != nil {
		_ = conn.Close(ctx) //nolint:errcheck // already failing
		return false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !granted {
		return false, conn.Close(ctx)
	}

	p.conn = conn
	p.key = key
	return true, nil
}

// Ping checks that the connection holding the lock is still alive.
func (p *PostgresProvider) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return errors.New("no advisory lock connection")
	}
	return p.conn.Ping(ctx)
}

// Close unlocks and closes the lock connection.
func (p *PostgresProvider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	conn := p.conn
	p.conn = nil

	_, unlockErr := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", p.key)
	closeErr := conn.Close(ctx)
	if unlockErr != nil {
		return fmt.Errorf("pg_advisory_unlock: %w", unlockErr)
	}
	return closeErr
}
