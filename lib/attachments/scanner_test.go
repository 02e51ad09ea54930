// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

package attachments

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type fakeIndex struct {
	mu      sync.Mutex
	written map[string][]byte
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{written: make(map[string][]byte)}
}

func (f *fakeIndex) Has(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.written[name]
	return ok, nil
}

func (f *fakeIndex) Write(_ context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written[name] = cp
	return nil
}

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestScannerUploadsNewFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bbb"), 0o644); err != nil {
		t.Fatal(err)
	}

	index := newFakeIndex()
	scanner := New(dir, index)

	if err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if index.count() != 2 {
		t.Fatalf("uploaded count = %d, want 2", index.count())
	}
	if string(index.written["a.txt"]) != "aaa" {
		t.Errorf("a.txt content = %q, want %q", index.written["a.txt"], "aaa")
	}
}

func TestScannerIdempotentOnUnchangedDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}

	index := newFakeIndex()
	scanner := New(dir, index)

	if err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	first := index.count()

	if err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if index.count() != first {
		t.Fatalf("second scan changed upload count: %d -> %d", first, index.count())
	}
}

func TestScannerSkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	if err := os.WriteFile(target, []byte("real"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	index := newFakeIndex()
	scanner := New(dir, index)
	if err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if _, ok := index.written["link.txt"]; ok {
		t.Fatalf("symlink was uploaded")
	}
	if _, ok := index.written["real.txt"]; !ok {
		t.Fatalf("real file was not uploaded")
	}
}
