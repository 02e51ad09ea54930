// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

package chunkupload

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/streamcap/streamcap/lib/clock"
)

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Write(_ context.Context, name string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.objects[name] = cp
	return nil
}

func (f *fakeStore) Delete(_ context.Context, names []string) error {
	for _, name := range names {
		delete(f.objects, name)
	}
	return nil
}

func (f *fakeStore) manifest(t *testing.T, name string) []int {
	t.Helper()
	data, ok := f.objects[name+"."+ManifestSuffix]
	if !ok {
		t.Fatalf("no manifest object for %q", name)
	}
	var sizes []int
	if err := json.Unmarshal(data, &sizes); err != nil {
		t.Fatalf("parsing manifest: %v", err)
	}
	return sizes
}

func newTestUploader(t *testing.T) (*Uploader, *fakeStore, *clock.FakeClock) {
	t.Helper()
	store := newFakeStore()
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	u, err := New(context.Background(), store, "log", nil, fakeClock, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return u, store, fakeClock
}

func TestNewWritesEmptyManifestAndStaticAssets(t *testing.T) {
	_, store, _ := newTestUploader(t)

	sizes := store.manifest(t, "log")
	if len(sizes) != 0 {
		t.Fatalf("initial manifest = %v, want []", sizes)
	}
	if _, ok := store.objects["viewer.html"]; !ok {
		t.Fatalf("static asset viewer.html was not published")
	}
}

func TestEmptyStream(t *testing.T) {
	u, store, _ := newTestUploader(t)
	ctx := context.Background()

	if err := u.Write(ctx, nil, true); err != nil {
		t.Fatalf("Write(final): %v", err)
	}

	if got, ok := store.objects["log"]; !ok || string(got) != "" {
		t.Fatalf("consolidated object = %q, %v; want empty, true", got, ok)
	}
	if _, ok := store.objects["log.chunks"]; ok {
		t.Fatalf("manifest should be deleted after finalisation")
	}
	for name := range store.objects {
		if name == "log" || name == "viewer.html" {
			continue
		}
		t.Fatalf("unexpected leftover object %q after finalisation", name)
	}
}

func TestSingleSmallLine(t *testing.T) {
	u, store, clk := newTestUploader(t)
	ctx := context.Background()

	if err := u.Write(ctx, []byte("hello\n"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Below SizeLimit and before TimeLimit elapses: nothing flushed yet.
	if _, ok := store.objects["log.0-6"]; ok {
		t.Fatalf("chunk published before any flush trigger")
	}

	clk.Advance(TimeLimit)
	if err := u.Write(ctx, nil, false); err != nil {
		t.Fatalf("Write (tick): %v", err)
	}

	data, ok := store.objects["log.0-6"]
	if !ok || string(data) != "hello\n" {
		t.Fatalf("chunk log.0-6 = %q, %v; want %q, true", data, ok, "hello\n")
	}
	if sizes := store.manifest(t, "log"); len(sizes) != 1 || sizes[0] != 6 {
		t.Fatalf("manifest = %v, want [6]", sizes)
	}

	if err := u.Write(ctx, nil, true); err != nil {
		t.Fatalf("Write(final): %v", err)
	}
	if string(store.objects["log"]) != "hello\n" {
		t.Fatalf("consolidated object = %q, want %q", store.objects["log"], "hello\n")
	}
	if _, ok := store.objects["log.0-6"]; ok {
		t.Fatalf("chunk object should be deleted after finalisation")
	}
}

// TestMergeBehaviour exercises the four single-byte flushes from
// spec scenario 3: after each flush the manifest should show
// [1], [2], [2,1], [4] — and the final consolidated object is "abcd".
func TestMergeBehaviour(t *testing.T) {
	u, store, _ := newTestUploader(t)
	ctx := context.Background()

	flushByte := func(b byte) {
		t.Helper()
		if err := u.Write(ctx, []byte{b}, false); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := u.appendBlock(ctx, u.pending); err != nil {
			t.Fatalf("appendBlock: %v", err)
		}
		u.pending = nil
	}

	flushByte('a')
	if sizes := store.manifest(t, "log"); !equalInts(sizes, []int{1}) {
		t.Fatalf("after 'a': manifest = %v, want [1]", sizes)
	}

	flushByte('b')
	if sizes := store.manifest(t, "log"); !equalInts(sizes, []int{2}) {
		t.Fatalf("after 'b': manifest = %v, want [2]", sizes)
	}

	flushByte('c')
	if sizes := store.manifest(t, "log"); !equalInts(sizes, []int{2, 1}) {
		t.Fatalf("after 'c': manifest = %v, want [2,1]", sizes)
	}

	flushByte('d')
	if sizes := store.manifest(t, "log"); !equalInts(sizes, []int{4}) {
		t.Fatalf("after 'd': manifest = %v, want [4]", sizes)
	}

	if err := u.Write(ctx, nil, true); err != nil {
		t.Fatalf("Write(final): %v", err)
	}
	if string(store.objects["log"]) != "abcd" {
		t.Fatalf("consolidated object = %q, want %q", store.objects["log"], "abcd")
	}
}

func TestSizeTriggeredFlush(t *testing.T) {
	u, store, _ := newTestUploader(t)
	ctx := context.Background()

	data := make([]byte, SizeLimit)
	for i := range data {
		data[i] = 'x'
	}

	if err := u.Write(ctx, data, false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	name := "log.0-1000000"
	got, ok := store.objects[name]
	if !ok || len(got) != SizeLimit {
		t.Fatalf("chunk %s missing or wrong size: ok=%v len=%d", name, ok, len(got))
	}
	if sizes := store.manifest(t, "log"); !equalInts(sizes, []int{SizeLimit}) {
		t.Fatalf("manifest = %v, want [%d]", sizes, SizeLimit)
	}
	if len(u.pending) != 0 {
		t.Fatalf("pending = %d bytes, want 0 after size-triggered flush", len(u.pending))
	}
}

func TestTimeTriggeredFlush(t *testing.T) {
	u, store, clk := newTestUploader(t)
	ctx := context.Background()

	if err := u.Write(ctx, []byte("a"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := store.objects["log.0-1"]; ok {
		t.Fatalf("flushed before TimeLimit elapsed")
	}

	clk.Advance(TimeLimit - time.Millisecond)
	if err := u.Write(ctx, nil, false); err != nil {
		t.Fatalf("Write (tick): %v", err)
	}
	if _, ok := store.objects["log.0-1"]; ok {
		t.Fatalf("flushed before the deadline")
	}

	clk.Advance(2 * time.Millisecond)
	if err := u.Write(ctx, nil, false); err != nil {
		t.Fatalf("Write (tick): %v", err)
	}
	if _, ok := store.objects["log.0-1"]; !ok {
		t.Fatalf("expected flush on the tick after the deadline")
	}
}

// TestLogarithmicLayout checks the chunk-list-length bound from
// testable property "Logarithmic layout": at most floor(log2 n) + 1
// chunks for n flushed blocks.
func TestLogarithmicLayout(t *testing.T) {
	u, _, _ := newTestUploader(t)
	ctx := context.Background()

	const n = 500
	for i := 0; i < n; i++ {
		if err := u.appendBlock(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("appendBlock %d: %v", i, err)
		}
	}

	maxChunks := floorLog2(n) + 1
	if len(u.chunks) > maxChunks {
		t.Fatalf("chunk list length = %d, want <= %d", len(u.chunks), maxChunks)
	}

	blockCounts := make([]int, len(u.chunks))
	for i, c := range u.chunks {
		blockCounts[i] = c.blockCount
	}
	for i := 1; i < len(blockCounts); i++ {
		if blockCounts[i] >= blockCounts[i-1] {
			t.Fatalf("block counts not strictly decreasing: %v", blockCounts)
		}
	}
}

// TestReconstructibility checks that concatenating chunk objects in
// manifest order reproduces the flushed prefix, for an input that
// exercises several merges.
func TestReconstructibility(t *testing.T) {
	u, store, _ := newTestUploader(t)
	ctx := context.Background()

	input := "the quick brown fox jumps over the lazy dog"
	for i := 0; i < len(input); i++ {
		if err := u.appendBlock(ctx, []byte{input[i]}); err != nil {
			t.Fatalf("appendBlock: %v", err)
		}
	}

	sizes := store.manifest(t, "log")
	var reconstructed []byte
	start := 0
	for _, size := range sizes {
		end := start + size
		chunk, ok := store.objects["log."+strconv.Itoa(start)+"-"+strconv.Itoa(end)]
		if !ok {
			t.Fatalf("missing chunk object for range %d-%d", start, end)
		}
		reconstructed = append(reconstructed, chunk...)
		start = end
	}

	if string(reconstructed) != input {
		t.Fatalf("reconstructed = %q, want %q", reconstructed, input)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func floorLog2(n int) int {
	if n <= 0 {
		return 0
	}
	log := 0
	for n > 1 {
		n >>= 1
		log++
	}
	return log
}
