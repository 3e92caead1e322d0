// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn indicates a stage executable could not be started.
	ErrSpawn = errors.New("stage failed to start")

	// ErrStage indicates a stage exited with a non-zero status.
	ErrStage = errors.New("stage exited with non-zero status")
)

// StageError describes the stage that decided a failed run.
type StageError struct {
	Stage  string
	Code   int
	Stderr string

	// Err is set when the stage did not exit on its own, for example because
	// the run's context expired.
	Err error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s exited with code %d: %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d", e.Stage, e.Code)
}

// Is makes errors.Is(err, ErrStage) match any StageError.
func (e *StageError) Is(target error) bool {
	return target == ErrStage
}

func (e *StageError) Unwrap() error {
	return e.Err
}
