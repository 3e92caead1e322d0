// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package backup

import (
	"context"
	"sort"

	"github.com/tomtom215/pgbackupd/internal/logging"
	"github.com/tomtom215/pgbackupd/internal/metrics"
)

// Cleaner enforces the retention policy over the backup directory.
type Cleaner struct {
	store *Store
}

// NewCleaner creates a Cleaner that deletes through store.
func NewCleaner(store *Store) *Cleaner {
	return &Cleaner{store: store}
}

// retentionCandidates partitions names into temporary artifacts, final
// artifacts and everything else, and returns the names to delete: every
// temporary artifact plus all final artifacts beyond the keep newest.
// Unrelated names are never returned.
func retentionCandidates(names []string, keep uint) []string {
	var final, temp []string
	for _, name := range names {
		switch {
		case IsTempName(name):
			temp = append(temp, name)
		case IsFinalName(name):
			final = append(final, name)
		}
	}

	sort.Slice(final, func(i, j int) bool {
		return newerName(final[i], final[j])
	})

	toDelete := make([]string, 0, len(temp)+len(final))
	if uint(len(final)) > keep {
		toDelete = append(toDelete, final[keep:]...)
	}
	return append(toDelete, temp...)
}

// Sweep deletes orphaned temporary artifacts and the complete artifacts that
// fall outside the policy's keep window. Deletion is best effort: a failure is
// logged and the sweep moves on. It returns the number of files deleted; the
// error is only set when the directory could not be read.
func (c *Cleaner) Sweep(ctx context.Context, policy Policy) (int, error) {
	names, err := c.store.Names()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, name := range retentionCandidates(names, policy.KeepLastAmount) {
		if err := c.store.Delete(name); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("artifact", name).Msg("Failed to delete backup artifact")
			metrics.RetentionFailuresTotal.Inc()
			continue
		}
		deleted++
		metrics.RetentionDeletedTotal.Inc()
	}

	logging.Ctx(ctx).Debug().
		Int("deleted", deleted).
		Uint("keep_last_amount", policy.KeepLastAmount).
		Msg("Database backup cleanup finished")

	return deleted, nil
}
