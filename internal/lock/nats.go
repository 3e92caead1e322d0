// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/pgbackupd/internal/logging"
)

const (
	// DefaultNATSBucket is the key-value bucket holding lock keys.
	DefaultNATSBucket = "pgbackupd_locks"

	// DefaultNATSTTL is how long a key survives without a keepalive.
	DefaultNATSTTL = 30 * time.Second

	natsOpTimeout = 5 * time.Second
)

// NATSConfig configures a NATSProvider.
type NATSConfig struct {
	URL    string
	Bucket string
	TTL    time.Duration

	// Holder is stored as the key's value. Defaults to hostname/uuid.
	Holder string
}

// NATSProvider takes a lock by exclusively creating a key in a JetStream
// key-value bucket. The bucket's TTL expires the key of an owner that stops
// refreshing it, so a crashed owner does not block others forever.
type NATSProvider struct {
	cfg NATSConfig

	mu       sync.Mutex
	nc       *nats.Conn
	kv       jetstream.KeyValue
	key      string
	revision uint64
	stop     context.CancelFunc
	done     chan struct{}
}

// NewNATSProvider creates a provider for cfg, filling in defaults.
func NewNATSProvider(cfg NATSConfig) *NATSProvider {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultNATSBucket
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultNATSTTL
	}
	if cfg.Holder == "" {
		host, _ := os.Hostname() //nolint:errcheck // empty hostname is acceptable
		cfg.Holder = fmt.Sprintf("%s/%s", host, uuid.NewString())
	}
	return &NATSProvider{cfg: cfg}
}

// Holder returns the identity written into the lock key.
func (p *NATSProvider) Holder() string {
	return p.cfg.Holder
}

// TryLock connects, ensures the bucket exists and creates the key. An
// existing key means another instance holds the lock.
func (p *NATSProvider) TryLock(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nc != nil {
		return false, errors.New("lock already requested by this provider")
	}

	nc, err := nats.Connect(p.cfg.URL,
		nats.Name("pgbackupd-lock"),
		nats.Timeout(natsOpTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return false, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return false, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      p.cfg.Bucket,
		Description: "pgbackupd duty locks",
		TTL:         p.cfg.TTL,
		History:     1,
	})
	if err != nil {
		nc.Close()
		return false, fmt.Errorf("ensure lock bucket %s: %w", p.cfg.Bucket, err)
	}

	rev, err := kv.Create(ctx, name, []byte(p.cfg.Holder))
	if errors.Is(err, jetstream.ErrKeyExists) {
		nc.Close()
		return false, nil
	}
	if err != nil {
		nc.Close()
		return false, fmt.Errorf("create lock key %s: %w", name, err)
	}

	keepaliveCtx, stop := context.WithCancel(context.Background())
	p.nc, p.kv, p.key, p.revision = nc, kv, name, rev
	p.stop = stop
	p.done = make(chan struct{})
	go p.keepalive(keepaliveCtx)

	return true, nil
}

// keepalive rewrites the key well inside the TTL. The update is conditional
// on the last revision, so an owner whose key expired and was taken over
// notices instead of stealing it back.
func (p *NATSProvider) keepalive(ctx context.Context) {
	defer close(p.done)

	logger := logging.WithComponent("lock")
	ticker := time.NewTicker(p.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		kv, key, rev := p.kv, p.key, p.revision
		p.mu.Unlock()

		opCtx, cancel := context.WithTimeout(ctx, natsOpTimeout)
		next, err := kv.Update(opCtx, key, []byte(p.cfg.Holder), rev)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Str("lock", key).Msg("Failed to refresh lock key")
			continue
		}

		p.mu.Lock()
		p.revision = next
		p.mu.Unlock()
	}
}

// Close stops the keepalive, deletes the key if it is still ours and closes
// the connection.
func (p *NATSProvider) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.nc == nil {
		p.mu.Unlock()
		return nil
	}
	stop, done := p.stop, p.done
	p.mu.Unlock()

	stop()
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.kv.Delete(ctx, p.key, jetstream.LastRevision(p.revision))
	p.nc.Close()
	p.nc, p.kv = nil, nil
	if err != nil {
		return fmt.Errorf("release lock key %s: %w", p.key, err)
	}
	return nil
}
