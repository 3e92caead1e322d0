// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package backup

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	artifactPrefix = "immich-db-backup-"
	artifactSuffix = ".sql.gz"
	tempSuffix     = ".tmp"
)

// The timestamp has no fixed width, so names order by length first. See newerName.
var (
	finalNamePattern = regexp.MustCompile(`^immich-db-backup-\d+\.sql\.gz$`)
	tempNamePattern  = regexp.MustCompile(`^immich-db-backup-\d+\.sql\.gz\.tmp$`)
)

// TempName returns the in-flight artifact name for a run started at millis.
func TempName(millis int64) string {
	return artifactPrefix + strconv.FormatInt(millis, 10) + artifactSuffix + tempSuffix
}

// FinalName strips the temporary suffix from name.
func FinalName(name string) string {
	return strings.TrimSuffix(name, tempSuffix)
}

// IsFinalName reports whether name is a well-formed published artifact name.
func IsFinalName(name string) bool {
	return finalNamePattern.MatchString(name)
}

// IsTempName reports whether name is a well-formed temporary artifact name.
func IsTempName(name string) bool {
	return tempNamePattern.MatchString(name)
}

// newerName reports whether artifact name a carries a later timestamp than b.
// Both must be well-formed. Shorter digit runs are older.
func newerName(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

// nameTime extracts the embedded timestamp from a well-formed name.
// Only used for display; ordering never depends on it.
func nameTime(name string) (time.Time, bool) {
	digits := strings.TrimPrefix(FinalName(name), artifactPrefix)
	digits = strings.TrimSuffix(digits, artifactSuffix)
	millis, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}
