// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package events publishes backup run outcomes to an event bus.

Every finished run, successful or not, becomes one RunEvent serialized as
JSON and published on a single topic. The production sink is NATS through
Watermill's NATS publisher; any Watermill message.Publisher works, which is
how the tests use a GoChannel.

Publishing never affects the backup itself. Failures are logged and counted.
A circuit breaker stops publish attempts for a while after repeated failures
so a dead bus does not slow every run down.

Subscribing from the NATS CLI:

	nats sub pgbackupd.backup.runs
*/
package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pgbackupd/internal/backup"
	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/metrics"
)

// DefaultTopic is the subject run events are published on.
const DefaultTopic = "pgbackupd.backup.runs"

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("event publisher is closed")

// RunEvent is the wire form of a finished backup run.
type RunEvent struct {
	EventID       string    `json:"event_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Status        string    `json:"status"`
	Artifact      string    `json:"artifact,omitempty"`
	SizeBytes     int64     `json:"size_bytes,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Deleted       int       `json:"deleted"`
	Error         string    `json:"error,omitempty"`
	Host          string    `json:"host,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewRunEvent converts a run report.
func NewRunEvent(r backup.RunReport) RunEvent {
	host, _ := os.Hostname() //nolint:errcheck // empty host is acceptable
	ev := RunEvent{
		EventID:       watermill.NewUUID(),
		CorrelationID: r.CorrelationID,
		Status:        string(r.Status),
		Artifact:      r.Artifact,
		SizeBytes:     r.SizeBytes,
		DurationMs:    r.Duration.Milliseconds(),
		Deleted:       r.Deleted,
		Host:          host,
		Timestamp:     r.FinishedAt.UTC(),
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	return ev
}

// Config configures a Publisher.
type Config struct {
	// URL of the NATS server. Only used by NewNATSPublisher.
	URL string

	Topic string

	MaxReconnects int
	ReconnectWait time.Duration

	// FailureThreshold consecutive failures open the breaker for BreakerTimeout.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		URL:              natsgo.DefaultURL,
		Topic:            DefaultTopic,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		FailureThreshold: 3,
		BreakerTimeout:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Topic == "" {
		c.Topic = d.Topic
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = d.ReconnectWait
	}
	return c
}

// Publisher publishes RunEvents with circuit breaker protection.
type Publisher struct {
	publisher message.Publisher
	topic     string
	breaker   *gobreaker.CircuitBreaker[struct{}]

	mu     sync.RWMutex
	closed bool
}

// NewNATSPublisher creates a publisher on core NATS. The connection is
// retried in the background, so an unreachable server is not an error here.
func NewNATSPublisher(cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		cfg.URL = natsgo.DefaultURL
	}
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())

	natsOpts := []natsgo.Option{
		natsgo.Name("pgbackupd-events"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS event publisher: %w", err)
	}
	return NewPublisher(pub, cfg), nil
}

// NewPublisher wraps an existing Watermill publisher.
func NewPublisher(pub message.Publisher, cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	p := &Publisher{
		publisher: pub,
		topic:     cfg.Topic,
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "event-publisher",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Event publisher circuit breaker changed state")
		},
	})
	return p
}

// Topic returns the topic events are published on.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends ev. With the breaker open it fails fast with
// gobreaker.ErrOpenState.
func (p *Publisher) Publish(ctx context.Context, ev RunEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize run event: %w", err)
	}

	msg := message.NewMessage(ev.EventID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(natsgo.MsgIdHdr, ev.EventID)
	msg.Metadata.Set("status", ev.Status)
	if ev.CorrelationID != "" {
		msg.Metadata.Set("correlation_id", ev.CorrelationID)
	}

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(p.topic, msg)
	})
	switch {
	case err == nil:
		metrics.EventsPublishedTotal.WithLabelValues("success").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.EventsPublishedTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.EventsPublishedTotal.WithLabelValues("failed").Inc()
	}
	return fmt.Errorf("publish run event: %w", err)
}

// Observe publishes the report as a RunEvent. It has the backup.RunObserver
// signature; errors are logged, never returned.
func (p *Publisher) Observe(ctx context.Context, r backup.RunReport) {
	ev := NewRunEvent(r)
	if err := p.Publish(ctx, ev); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("topic", p.topic).Msg("Backup run event not published")
		return
	}
	logging.Ctx(ctx).Debug().Str("event_id", ev.EventID).Str("topic", p.topic).Msg("Backup run event published")
}

// Close shuts the underlying publisher down. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
