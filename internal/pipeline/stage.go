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
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on I/O after a stage process exits
// or is killed.
const waitDelay = 10 * time.Second

// Streams are the standard streams handed to a starting stage.
//
// Owned lists the stream ends this pipeline created for the stage. The stage
// must close them once they are no longer needed by the pipeline: Command
// closes them right after the process has started (the child holds its own
// copies), an in-process stage closes them when it finishes.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Owned  []io.Closer
}

// CloseOwned closes every owned stream end, returning the first error.
func (s Streams) CloseOwned() error {
	var first error
	for _, c := range s.Owned {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Process is a started stage.
type Process interface {
	// Wait blocks until the stage exits and returns its exit code.
	// Code is -1 when the stage was killed by a signal or never reported one.
	Wait() (int, error)
}

// Stage is one side of a Pipeline.
type Stage interface {
	Name() string
	Start(ctx context.Context, streams Streams) (Process, error)
}

// Command is a Stage backed by an external executable.
type Command struct {
	Label string
	Path  string
	Args  []string

	// Env is the complete child environment. A nil Env gives the child an
	// empty environment rather than inheriting this process's.
	Env []string
}

// Name returns the stage label.
func (c *Command) Name() string {
	return c.Label
}

// Start spawns the executable. Killing on context cancellation is handled by
// exec.CommandContext.
func (c *Command) Start(ctx context.Context, streams Streams) (Process, error) {
	//nolint:gosec // executable paths come from operator configuration
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = c.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Stdin = streams.Stdin
	cmd.Stdout = streams.Stdout
	cmd.Stderr = streams.Stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Start()
	// The child has its own copies of the pipe ends now; ours must be closed
	// so EOF propagates when the peer exits.
	_ = streams.CloseOwned() //nolint:errcheck // close of inherited descriptors
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %w", ErrSpawn, c.Label, c.Path, err)
	}
	return &commandProcess{cmd: cmd}, nil
}

type commandProcess struct {
	cmd *exec.Cmd
}

func (p *commandProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when terminated by a signal
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// FuncStage runs an in-process function as a stage. The function reads from
// stdin and writes to stdout; its return value becomes the exit code.
type FuncStage struct {
	Label string
	Fn    func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) int
}

// Name returns the stage label.
func (f *FuncStage) Name() string {
	return f.Label
}

// Start runs Fn in its own goroutine.
func (f *FuncStage) Start(ctx context.Context, streams Streams) (Process, error) {
	p := &funcProcess{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		stdin := streams.Stdin
		if stdin == nil {
			stdin = eofReader{}
		}
		stdout := streams.Stdout
		if stdout == nil {
			stdout = io.Discard
		}
		stderr := streams.Stderr
		if stderr == nil {
			stderr = io.Discard
		}
		p.code = f.Fn(ctx, stdin, stdout, stderr)
		_ = streams.CloseOwned() //nolint:errcheck // signals EOF to the peer
	}()
	return p, nil
}

type funcProcess struct {
	done chan struct{}
	code int
}

func (p *funcProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
