// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// startQueue runs q.Serve until the test ends.
func startQueue(t *testing.T, q *Queue) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = q.Close()
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueueRunsJob(t *testing.T) {
	q := NewQueue(WithCloseTimeout(time.Second))
	var runs atomic.Int32
	q.Handle("noop", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	startQueue(t, q)

	if err := q.Enqueue(context.Background(), "noop"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, "job to run", func() bool { return runs.Load() == 1 && !q.Pending("noop") })
}

func TestQueueSkipsPendingJob(t *testing.T) {
	q := NewQueue(WithCloseTimeout(time.Second))
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	q.Handle("slow", func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	})
	startQueue(t, q)

	ctx := context.Background()
	if err := q.Enqueue(ctx, "slow"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-started

	// Running: a second trigger is dropped.
	if err := q.Enqueue(ctx, "slow"); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("second Enqueue() error = %v, want ErrAlreadyQueued", err)
	}

	close(release)
	waitFor(t, "job to finish", func() bool { return !q.Pending("slow") })

	if err := q.Enqueue(ctx, "slow"); err != nil {
		t.Fatalf("Enqueue() after completion error = %v", err)
	}
	waitFor(t, "second run", func() bool { return runs.Load() == 2 })
}

func TestQueueRunsOneJobAtATime(t *testing.T) {
	q := NewQueue(WithCloseTimeout(time.Second))
	var active, maxActive, done atomic.Int32
	work := func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
		done.Add(1)
		return nil
	}
	for _, name := range []string{"a", "b", "c"} {
		q.Handle(name, work)
	}
	startQueue(t, q)

	for _, name := range []string{"a", "b", "c"} {
		if err := q.Enqueue(context.Background(), name); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", name, err)
		}
	}
	waitFor(t, "all jobs", func() bool { return done.Load() == 3 })

	if got := maxActive.Load(); got != 1 {
		t.Errorf("max concurrent jobs = %d, want 1", got)
	}
}

func TestQueueFailedJobNotRedelivered(t *testing.T) {
	q := NewQueue(WithCloseTimeout(time.Second))
	var runs atomic.Int32
	q.Handle("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("exit status 1")
	})
	startQueue(t, q)

	if err := q.Enqueue(context.Background(), "broken"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, "job to fail", func() bool { return runs.Load() == 1 && !q.Pending("broken") })

	time.Sleep(200 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestQueuePanickingJob(t *testing.T) {
	q := NewQueue(WithCloseTimeout(time.Second))
	var runs atomic.Int32
	q.Handle("panics", func(context.Context) error {
		runs.Add(1)
		panic("boom")
	})
	q.Handle("after", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	startQueue(t, q)

	ctx := context.Background()
	if err := q.Enqueue(ctx, "panics"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, "panicking job", func() bool { return !q.Pending("panics") })

	if err := q.Enqueue(ctx, "after"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, "consumer to survive the panic", func() bool { return runs.Load() >= 2 })
}

func TestQueueEnqueueErrors(t *testing.T) {
	t.Run("unknown job", func(t *testing.T) {
		q := NewQueue()
		if err := q.Enqueue(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
			t.Errorf("Enqueue() error = %v, want ErrUnknownJob", err)
		}
	})

	t.Run("consumer not running", func(t *testing.T) {
		q := NewQueue()
		q.Handle("job", func(context.Context) error { return nil })
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := q.Enqueue(ctx, "job"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Enqueue() error = %v, want DeadlineExceeded", err)
		}
		if q.Pending("job") {
			t.Error("job left pending after a failed enqueue")
		}
	})

	t.Run("closed", func(t *testing.T) {
		q := NewQueue()
		q.Handle("job", func(context.Context) error { return nil })
		if err := q.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if err := q.Enqueue(context.Background(), "job"); !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Enqueue() error = %v, want ErrQueueClosed", err)
		}
	})
}
