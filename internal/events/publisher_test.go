// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pgbackupd/internal/backup"
)

func sampleReport() backup.RunReport {
	return backup.RunReport{
		CorrelationID: "3f2a9c1d",
		Status:        backup.JobStatusSuccess,
		Artifact:      "immich-db-backup-1772330400000.sql.gz",
		SizeBytes:     4096,
		Duration:      1500 * time.Millisecond,
		Deleted:       2,
		FinishedAt:    time.Date(2026, 3, 1, 2, 0, 1, 0, time.UTC),
	}
}

func TestNewRunEvent(t *testing.T) {
	t.Parallel()

	ev := NewRunEvent(sampleReport())
	if ev.EventID == "" {
		t.Error("EventID is empty")
	}
	if ev.Status != "success" || ev.DurationMs != 1500 || ev.Deleted != 2 || ev.Error != "" {
		t.Errorf("event = %+v", ev)
	}

	failed := sampleReport()
	failed.Status = backup.JobStatusFailed
	failed.Artifact = ""
	failed.Err = errors.New("database backup failed: pg_dumpall exited with code 1")
	ev = NewRunEvent(failed)
	if ev.Status != "failed" || ev.Error == "" {
		t.Errorf("failed event = %+v", ev)
	}
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1}, watermill.NopLogger{})
	defer pubsub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := pubsub.Subscribe(ctx, DefaultTopic)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	p := NewPublisher(pubsub, Config{})
	p.Observe(ctx, sampleReport())

	var msg *message.Message
	select {
	case msg = <-msgs:
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("no event received")
	}

	var ev RunEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Artifact != "immich-db-backup-1772330400000.sql.gz" || ev.SizeBytes != 4096 {
		t.Errorf("event = %+v", ev)
	}
	if msg.UUID != ev.EventID {
		t.Errorf("message UUID %q != event ID %q", msg.UUID, ev.EventID)
	}
	if got := msg.Metadata.Get("correlation_id"); got != "3f2a9c1d" {
		t.Errorf("correlation_id metadata = %q", got)
	}
}

type failingPublisher struct {
	calls atomic.Int32
}

func (f *failingPublisher) Publish(string, ...*message.Message) error {
	f.calls.Add(1)
	return errors.New("nats: no servers available for connection")
}

func (f *failingPublisher) Close() error { return nil }

func TestPublisherCircuitBreaker(t *testing.T) {
	t.Parallel()

	failing := &failingPublisher{}
	p := NewPublisher(failing, Config{FailureThreshold: 2, BreakerTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := p.Publish(ctx, NewRunEvent(sampleReport()))
		if err == nil || errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("attempt %d error = %v, want the publish error", i+1, err)
		}
	}

	err := p.Publish(ctx, NewRunEvent(sampleReport()))
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("third attempt error = %v, want ErrOpenState", err)
	}
	if got := failing.calls.Load(); got != 2 {
		t.Errorf("underlying publisher called %d times, want 2", got)
	}

	// Observe swallows the error.
	p.Observe(ctx, sampleReport())
}

func TestPublisherClosed(t *testing.T) {
	t.Parallel()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	p := NewPublisher(pubsub, Config{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := p.Publish(context.Background(), NewRunEvent(sampleReport())); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrPublisherClosed", err)
	}
}

func TestNATSPublisher(t *testing.T) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "pgbackupd-events-test",
		Host:       "127.0.0.1",
		Port:       -1,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	nc, err := natsgo.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	sub, err := nc.SubscribeSync("test.backup.runs")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	cfg := DefaultConfig()
	cfg.URL = ns.ClientURL()
	cfg.Topic = "test.backup.runs"
	p, err := NewNATSPublisher(cfg)
	if err != nil {
		t.Fatalf("NewNATSPublisher() error = %v", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), NewRunEvent(sampleReport())); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("no event on NATS: %v", err)
	}
	var ev RunEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode NATS payload: %v", err)
	}
	if ev.CorrelationID != "3f2a9c1d" || ev.Status != "success" {
		t.Errorf("event = %+v", ev)
	}
}
