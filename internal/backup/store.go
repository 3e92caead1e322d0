// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/pgbackupd/internal/logging"
)

// createAttempts bounds how many consecutive timestamps Create tries when a
// name is already taken on disk.
const createAttempts = 16

// Store is the filesystem catalog of backup artifacts. It is the only
// component that creates, renames or removes files in the backup directory.
type Store struct {
	dir     string
	nowFn   func() time.Time
	syncDir func(dir string) error

	mu         sync.Mutex
	lastMillis int64
	active     map[string]struct{}
}

// NewStore creates the backup directory if needed and returns a Store for it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	return &Store{
		dir:     dir,
		nowFn:   time.Now,
		syncDir: syncDir,
		active:  make(map[string]struct{}),
	}, nil
}

// Dir returns the backup directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create opens a new temporary artifact for writing and returns it with its
// name. Timestamps handed out by a Store never repeat, so two runs inside the
// same millisecond still get distinct names.
func (s *Store) Create() (*os.File, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	millis := s.nowFn().UnixMilli()
	if millis <= s.lastMillis {
		millis = s.lastMillis + 1
	}

	for i := 0; i < createAttempts; i++ {
		name := TempName(millis)
		//nolint:gosec // name is generated, never user input
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			s.lastMillis = millis
			s.active[name] = struct{}{}
			return f, name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create temporary artifact %s: %w", name, err)
		}
		millis++
	}

	return nil, "", fmt.Errorf("failed to create temporary artifact: %d candidate names already exist", createAttempts)
}

// Finish flushes a temporary artifact to stable storage and closes it.
func (s *Store) Finish(f *os.File) error {
	syncErr := f.Sync()
	closeErr := f.Close()
	if syncErr != nil {
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(f.Name()), syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(f.Name()), closeErr)
	}
	return nil
}

// Publish renames a temporary artifact to its final name. The rename is the
// only point at which a final name becomes visible.
func (s *Store) Publish(tempName string) (string, error) {
	if !IsTempName(tempName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, tempName)
	}

	finalName := FinalName(tempName)
	if err := os.Rename(filepath.Join(s.dir, tempName), filepath.Join(s.dir, finalName)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublish, err)
	}

	s.mu.Lock()
	delete(s.active, tempName)
	s.mu.Unlock()

	// The artifact is already visible under its final name, so a failed
	// directory flush does not fail the publish.
	if err := s.syncDir(s.dir); err != nil {
		logging.Warn().Err(err).Str("artifact", finalName).Msg("Backup directory sync failed after publish")
	}

	return finalName, nil
}

// Abandon marks a temporary artifact as no longer written to. The file stays
// on disk until the next sweep.
func (s *Store) Abandon(tempName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, tempName)
}

// Delete removes an artifact by name. Only well-formed artifact names inside
// the backup directory can be deleted.
func (s *Store) Delete(name string) error {
	if filepath.Base(name) != name || (!IsFinalName(name) && !IsTempName(name)) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return os.Remove(filepath.Join(s.dir, name))
}

// Names returns the names of all entries in the backup directory.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// List returns all well-formed artifacts, newest first.
func (s *Store) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory %s: %w", s.dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	artifacts := make([]Artifact, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}

		var state ArtifactState
		switch {
		case IsFinalName(name):
			state = StateComplete
		case IsTempName(name):
			state = StateOrphaned
			if _, ok := s.active[name]; ok {
				state = StateInProgress
			}
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}

		createdAt, _ := nameTime(name)
		artifacts = append(artifacts, Artifact{
			Name:      name,
			Path:      filepath.Join(s.dir, name),
			State:     state,
			CreatedAt: createdAt,
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return newerName(artifacts[i].Name, artifacts[j].Name)
	})

	return artifacts, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // backup directory comes from configuration
	if err != nil {
		return err
	}
	syncErr := d.Sync()
	closeErr := d.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
