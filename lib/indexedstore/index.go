// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

// Package indexedstore wraps a storage.Adapter with an in-memory
// record of every name that has been written, and periodically
// regenerates a human-facing index.html listing from that record.
package indexedstore

import (
	"context"
	"sort"
	"sync"

	"github.com/streamcap/streamcap/lib/storage"
)

// IndexName is the object name the directory listing is published
// under.
const IndexName = "index.html"

// Store wraps a storage.Adapter and tracks the set of names it has
// written. Has answers from this local set rather than delegating to
// the wrapped adapter — the one correctness fix this component makes
// relative to the system it's drawn from, where the equivalent method
// passed the wrapped adapter as its own first argument to itself: the
// membership set, not the backend, is authoritative.
//
// Store is safe for concurrent use.
type Store struct {
	adapter storage.Adapter

	mu    sync.Mutex
	names map[string]entry
	dirty bool
}

type entry struct {
	size int64
}

// New wraps adapter in a Store with an empty membership set.
func New(adapter storage.Adapter) *Store {
	return &Store{
		adapter: adapter,
		names:   make(map[string]entry),
	}
}

// Write delegates to the wrapped adapter and, on success, records
// name (and its size, for the listing) as published. Writing
// IndexName itself does not mark the store dirty — it would
// otherwise never converge.
func (s *Store) Write(ctx context.Context, name string, data []byte) error {
	if err := s.adapter.Write(ctx, name, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.names[name] = entry{size: int64(len(data))}
	if name != IndexName {
		s.dirty = true
	}
	s.mu.Unlock()
	return nil
}

// Delete delegates to the wrapped adapter and removes names from the
// membership set.
func (s *Store) Delete(ctx context.Context, names []string) error {
	if err := s.adapter.Delete(ctx, names); err != nil {
		return err
	}

	s.mu.Lock()
	for _, name := range names {
		delete(s.names, name)
	}
	s.dirty = true
	s.mu.Unlock()
	return nil
}

// Has reports whether name has been written (and not since deleted),
// according to this Store's own record — never the wrapped adapter.
func (s *Store) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[name]
	return ok, nil
}

// Sync regenerates index.html from the current membership set if any
// write or delete has happened since the last Sync, then clears the
// dirty flag. Calling Sync on an unchanged Store performs no writes.
//
// Sync is expected to be called from a single driver loop, never
// concurrently with itself; the mutex here guards the membership set
// against concurrent Write/Delete calls (made, for example, by a
// concurrent attachments scan), not against concurrent Sync calls.
func (s *Store) Sync(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	names := make([]string, 0, len(s.names))
	sizes := make(map[string]int64, len(s.names))
	for name, e := range s.names {
		names = append(names, name)
		sizes[name] = e.size
	}
	s.mu.Unlock()

	sort.Strings(names)

	html, err := renderIndex(names, sizes)
	if err != nil {
		return err
	}

	return s.adapter.Write(ctx, IndexName, html)
}
