// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

// Package attachments scans a local directory for files the streamed
// child process has written and uploads any not yet published.
package attachments

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentUploads bounds how many newly discovered files a single
// Scan uploads at once. Attachment ordering relative to each other is
// unspecified by the wire contract — only "uploaded before any log
// line referencing it" matters, and that's enforced by the driver
// calling Scan before the uploader's Write, not by ordering within a
// scan.
const maxConcurrentUploads = 4

// Haser is the subset of an indexed store Scanner needs to decide
// which files are new.
type Haser interface {
	Has(ctx context.Context, name string) (bool, error)
}

// Writer is the subset of an indexed store Scanner needs to publish a
// newly discovered file.
type Writer interface {
	Write(ctx context.Context, name string, data []byte) error
}

// Index is the storage.Adapter-shaped dependency a Scanner publishes
// through: Has to decide what's new, Write to publish it.
type Index interface {
	Haser
	Writer
}

// Scanner watches a directory for new regular files and uploads each
// one, exactly once, to an Index.
type Scanner struct {
	dir   string
	index Index
}

// New creates a Scanner over dir, publishing newly discovered files
// through index.
func New(dir string, index Index) *Scanner {
	return &Scanner{dir: dir, index: index}
}

// Scan enumerates regular files directly within the directory
// (symbolic links are never followed) and uploads any whose name is
// not already present in the index. Scanning an unchanged directory
// performs zero storage writes, since every name is already present.
//
// Files are assumed immutable once they appear — Scan reads each new
// file exactly once and never re-reads a name it has already
// published.
func (s *Scanner) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading attachments directory: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentUploads)

	for _, dirEntry := range entries {
		info, err := dirEntry.Info()
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
			continue
		}

		name := dirEntry.Name()
		present, err := s.index.Has(groupCtx, name)
		if err != nil {
			return fmt.Errorf("checking attachment %q: %w", name, err)
		}
		if present {
			continue
		}

		group.Go(func() error {
			return s.upload(groupCtx, name)
		})
	}

	return group.Wait()
}

func (s *Scanner) upload(ctx context.Context, name string) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("reading attachment %q: %w", name, err)
	}
	if err := s.index.Write(ctx, name, data); err != nil {
		return fmt.Errorf("uploading attachment %q: %w", name, err)
	}
	return nil
}
