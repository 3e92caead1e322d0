// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package scheduler

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pgbackupd/internal/backup"
)

// parser accepts standard five-field expressions and descriptors like @daily.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func parseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCron)
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidCron, expr, err)
	}
	return schedule, nil
}

// ValidateCronExpression reports whether expr is a syntactically valid cron
// expression. It never touches a live schedule.
func ValidateCronExpression(expr string) error {
	_, err := parseSchedule(expr)
	return err
}

// ValidatePolicy is the pre-commit check for a candidate backup policy.
// The expression is checked even when the policy is disabled, so that
// enabling it later cannot fail.
func ValidatePolicy(candidate backup.Policy) error {
	return ValidateCronExpression(candidate.CronExpression)
}

// cronLogger routes robfig/cron's logging into zerolog. Cron's info output
// (wake-ups, runs) is chatty and goes to debug.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
