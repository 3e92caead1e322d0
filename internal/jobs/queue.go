// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package jobs is an in-process job queue with a single consumer.

Jobs are identified by name. Enqueue publishes the name on a Watermill
GoChannel topic and one router handler consumes the topic, so at most one job
runs at a time. A name that is already queued or running is not queued
again: Enqueue returns ErrAlreadyQueued and the trigger is dropped.

Failed jobs are logged and counted, never redelivered. Retrying is the
caller's decision, usually by waiting for the next trigger.

Usage:

	q := jobs.NewQueue()
	q.Handle("backupDatabase", svc.Job)
	go q.Serve(ctx)
	_ = q.Enqueue(ctx, "backupDatabase")
*/
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/metrics"
)

const (
	topic = "pgbackupd.jobs"

	metadataJob           = "job"
	metadataCorrelationID = "correlation_id"

	// DefaultCloseTimeout bounds how long Serve waits for a running job on shutdown.
	DefaultCloseTimeout = 30 * time.Second
)

var (
	// ErrAlreadyQueued is returned when the named job is already queued or running.
	ErrAlreadyQueued = errors.New("job already queued or running")

	// ErrUnknownJob is returned when no handler is registered for the name.
	ErrUnknownJob = errors.New("unknown job")

	// ErrQueueClosed is returned by Enqueue after the queue was closed.
	ErrQueueClosed = errors.New("job queue closed")
)

// HandlerFunc runs one job.
type HandlerFunc func(ctx context.Context) error

// Queue runs named jobs one at a time.
type Queue struct {
	pubsub       *gochannel.GoChannel
	logger       watermill.LoggerAdapter
	closeTimeout time.Duration

	// runMu serializes handlers. The router delivers each message on its
	// own goroutine.
	runMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	pending  map[string]struct{}
	ready    chan struct{}
	closed   bool
}

// Option customizes a Queue.
type Option func(*Queue)

// WithCloseTimeout overrides DefaultCloseTimeout.
func WithCloseTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.closeTimeout = d
	}
}

// NewQueue creates an empty queue. Handlers must be registered before Serve.
func NewQueue(opts ...Option) *Queue {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	q := &Queue{
		logger:       logger,
		closeTimeout: DefaultCloseTimeout,
		handlers:     make(map[string]HandlerFunc),
		pending:      make(map[string]struct{}),
		ready:        make(chan struct{}),
	}
	q.pubsub = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, logger)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Handle registers fn under name, replacing any earlier handler.
func (q *Queue) Handle(name string, fn HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = fn
}

// Enqueue queues the named job. It blocks until the consumer is running or
// ctx is done.
func (q *Queue) Enqueue(ctx context.Context, name string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if _, ok := q.handlers[name]; !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if _, ok := q.pending[name]; ok {
		q.mu.Unlock()
		metrics.JobsSkippedTotal.WithLabelValues(name).Inc()
		logging.Ctx(ctx).Info().Str("job", name).Msg("Job skipped: already queued or running")
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, name)
	}
	q.pending[name] = struct{}{}
	ready := q.ready
	q.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		q.release(name)
		return fmt.Errorf("wait for job consumer: %w", ctx.Err())
	}

	msg := message.NewMessage(watermill.NewUUID(), []byte(name))
	msg.Metadata.Set(metadataJob, name)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(metadataCorrelationID, id)
	}
	if err := q.pubsub.Publish(topic, msg); err != nil {
		q.release(name)
		return fmt.Errorf("publish job %s: %w", name, err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(name).Inc()
	logging.Ctx(ctx).Debug().Str("job", name).Str("message_uuid", msg.UUID).Msg("Job enqueued")
	return nil
}

// Pending reports whether name is queued or running.
func (q *Queue) Pending(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[name]
	return ok
}

func (q *Queue) release(name string) {
	q.mu.Lock()
	delete(q.pending, name)
	q.mu.Unlock()
}

func (q *Queue) handler(name string) HandlerFunc {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[name]
}

// Serve runs the consumer until ctx is cancelled. It implements
// suture.Service.
func (q *Queue) Serve(ctx context.Context) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: q.closeTimeout}, q.logger)
	if err != nil {
		return fmt.Errorf("create job router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	router.AddNoPublisherHandler("pgbackupd_jobs", topic, q.pubsub, func(msg *message.Message) error {
		q.consume(ctx, msg)
		// Always ack: a failed job is reported, not redelivered.
		return nil
	})

	q.mu.Lock()
	ready := q.ready
	q.mu.Unlock()

	go func() {
		select {
		case <-router.Running():
			q.mu.Lock()
			select {
			case <-ready:
			default:
				close(ready)
			}
			q.mu.Unlock()
		case <-ctx.Done():
		}
	}()

	err = router.Run(ctx)

	// Messages still sitting in the channel are lost with the subscriber.
	q.mu.Lock()
	q.ready = make(chan struct{})
	clear(q.pending)
	q.mu.Unlock()

	if err != nil {
		return fmt.Errorf("job router: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (q *Queue) consume(ctx context.Context, msg *message.Message) {
	name := msg.Metadata.Get(metadataJob)
	defer q.release(name)

	if id := msg.Metadata.Get(metadataCorrelationID); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}
	logger := logging.Ctx(ctx).With().Str("job", name).Logger()

	fn := q.handler(name)
	if fn == nil {
		logger.Warn().Msg("No handler registered for job")
		metrics.JobsCompletedTotal.WithLabelValues(name, "unknown").Inc()
		return
	}

	q.runMu.Lock()
	defer q.runMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.JobsCompletedTotal.WithLabelValues(name, "failed").Inc()
			logger.Error().Interface("panic", r).Dur("duration", time.Since(start)).Msg("Job panicked")
		}
	}()

	logger.Debug().Msg("Job started")
	if err := fn(ctx); err != nil {
		metrics.JobsCompletedTotal.WithLabelValues(name, "failed").Inc()
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Job failed")
		return
	}
	metrics.JobsCompletedTotal.WithLabelValues(name, "success").Inc()
	logger.Debug().Dur("duration", time.Since(start)).Msg("Job completed")
}

// Close stops accepting jobs and closes the underlying pub/sub. A running
// Serve returns once its context is cancelled.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.pubsub.Close()
}

// String implements fmt.Stringer.
func (q *Queue) String() string {
	return "job-queue"
}
