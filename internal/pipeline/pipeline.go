// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Exit is the terminal status of one stage.
type Exit struct {
	Stage  string
	Code   int
	Err    error
	Stderr string
}

// OK reports whether the stage exited cleanly with status zero.
func (e Exit) OK() bool {
	return e.Code == 0 && e.Err == nil
}

// Result holds the exit status of both stages of a run.
type Result struct {
	Producer Exit
	Consumer Exit
}

// Success reports whether both stages exited cleanly.
func (r *Result) Success() bool {
	return r.Producer.OK() && r.Consumer.OK()
}

// Anomalous reports whether the consumer succeeded although the producer
// did not. Such a run is failed; this only helps callers word the log.
func (r *Result) Anomalous() bool {
	return r.Consumer.OK() && !r.Producer.OK()
}

// Pipeline connects a producer to a consumer.
type Pipeline struct {
	Producer Stage
	Consumer Stage

	// StderrLimit bounds the captured stderr per stage. Zero uses DefaultStderrLimit.
	StderrLimit int
}

// Run starts both stages, streams the consumer's output into dst and waits
// for both to exit. It returns a nil error only if both exited zero.
//
// The returned Result is always non-nil, even when a stage failed to start.
func (p *Pipeline) Run(ctx context.Context, dst io.Writer) (*Result, error) {
	result := &Result{
		Producer: Exit{Stage: p.Producer.Name(), Code: -1},
		Consumer: Exit{Stage: p.Consumer.Name(), Code: -1},
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw, err := os.Pipe()
	if err != nil {
		return result, fmt.Errorf("%w: create pipe: %w", ErrSpawn, err)
	}

	producerStderr := newTailBuffer(p.StderrLimit)
	consumerStderr := newTailBuffer(p.StderrLimit)

	producer, err := p.Producer.Start(runCtx, Streams{
		Stdout: pw,
		Stderr: producerStderr,
		Owned:  []io.Closer{pw},
	})
	if err != nil {
		_ = pr.Close() //nolint:errcheck // nothing was started
		result.Producer.Err = err
		return result, err
	}

	consumer, err := p.Consumer.Start(runCtx, Streams{
		Stdin:  pr,
		Stdout: dst,
		Stderr: consumerStderr,
		Owned:  []io.Closer{pr},
	})
	if err != nil {
		// Without a reader the producer would block on a full pipe.
		cancel()
		code, waitErr := producer.Wait()
		result.Producer = Exit{Stage: p.Producer.Name(), Code: code, Err: waitErr, Stderr: producerStderr.String()}
		result.Consumer.Err = err
		return result, err
	}

	// The stage that fails first decides the run; the other one is usually
	// killed by cancel or broken pipe as a consequence.
	var (
		failOnce      sync.Once
		consumerFirst bool
	)

	var g errgroup.Group
	g.Go(func() error {
		code, waitErr := producer.Wait()
		result.Producer.Code, result.Producer.Err = code, waitErr
		if code != 0 || waitErr != nil {
			failOnce.Do(func() {})
			// The consumer's output cannot be complete.
			cancel()
		}
		return nil
	})
	g.Go(func() error {
		code, waitErr := consumer.Wait()
		result.Consumer.Code, result.Consumer.Err = code, waitErr
		if code != 0 || waitErr != nil {
			failOnce.Do(func() { consumerFirst = true })
			cancel()
		}
		return nil
	})
	_ = g.Wait() //nolint:errcheck // goroutines report through result

	result.Producer.Stderr = producerStderr.String()
	result.Consumer.Stderr = consumerStderr.String()

	return result, decide(ctx, result, consumerFirst)
}

// decide applies the completion policy. A producer failure decides the run
// unless the consumer had already failed before it, so a consumer that exits
// zero never masks a failed producer.
func decide(ctx context.Context, result *Result, consumerFirst bool) error {
	order := []Exit{result.Producer, result.Consumer}
	if consumerFirst {
		order[0], order[1] = order[1], order[0]
	}
	for _, exit := range order {
		if exit.OK() {
			continue
		}
		cause := exit.Err
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = errors.Join(ctxErr, cause)
		}
		return &StageError{
			Stage:  exit.Stage,
			Code:   exit.Code,
			Stderr: exit.Stderr,
			Err:    cause,
		}
	}
	return nil
}
