// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Local is an Adapter backed by a directory on the local filesystem.
// Writes are atomic: data is written to a temporary file in the same
// directory, fsynced, and renamed into place, so a concurrent reader
// (an HTTP file server pointed at Dir, for example) never observes a
// partially written object.
type Local struct {
	// Dir is the root directory objects are written under. Created on
	// first use if it does not already exist.
	Dir string
}

// NewLocal creates a Local adapter rooted at dir, creating the
// directory (and any missing parents) if necessary.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: local directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating local storage directory: %w", err)
	}
	return &Local{Dir: dir}, nil
}

// Has reports whether name exists in the directory.
func (l *Local) Has(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(l.Dir, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Write atomically writes data under name.
func (l *Local) Write(_ context.Context, name string, data []byte) error {
	path := filepath.Join(l.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", name, err)
	}

	// A random suffix (rather than a fixed ".tmp") lets concurrent
	// writes to the same name never collide on the temporary path.
	tempPath := path + "." + uuid.NewString() + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", name, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing %s: %w", name, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming %s into place: %w", name, err)
	}

	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}

	return nil
}

// Delete removes the named objects. Missing files are not an error.
func (l *Local) Delete(_ context.Context, names []string) error {
	for _, name := range names {
		if err := os.Remove(filepath.Join(l.Dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting %s: %w", name, err)
		}
	}
	return nil
}
