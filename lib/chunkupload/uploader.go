// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkupload implements the logarithmic chunking protocol: it
// consumes a stream of byte blocks, maintains a chunk list whose
// block-counts follow a strictly-decreasing, power-of-two ("2048
// game") merge discipline, and publishes immutable chunk objects plus
// a mutable manifest so a polling client can catch up to a growing
// stream downloading each byte at most O(log n) times.
package chunkupload

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/streamcap/streamcap/lib/clock"
)

// SizeLimit is the pending-byte threshold that forces an immediate
// flush regardless of how long the current flush deadline has left to
// run.
const SizeLimit = 1_000_000

// TimeLimit is how long pending bytes may sit unflushed before a
// flush is forced, if SizeLimit isn't reached first.
const TimeLimit = 10 * time.Second

// ManifestSuffix names the mutable manifest object: "{filename}.chunks".
const ManifestSuffix = "chunks"

// Store is the dependency an Uploader publishes objects through. Both
// storage.Adapter and indexedstore.Store satisfy it.
type Store interface {
	Write(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, names []string) error
}

// chunkRecord is one entry in the uploader's chunk list: an ordered,
// non-empty list of blocks and the block count used to decide merges.
type chunkRecord struct {
	blocks     [][]byte
	blockCount int
}

func (c *chunkRecord) size() int {
	n := 0
	for _, b := range c.blocks {
		n += len(b)
	}
	return n
}

// Uploader holds all state for one logical stream: the incremental
// decoder, the pending buffer of decoded-but-unflushed bytes, the
// chunk list, the current flush deadline, and the set of published
// object suffixes (used at finalisation to know what to delete).
//
// An Uploader is not safe for concurrent use — the wire contract's
// ordering guarantee (chunk object acknowledged before the manifest
// that names it) requires every Write call to run to completion
// before the next begins, and the reference driver enforces this by
// calling Write from a single loop.
type Uploader struct {
	store  Store
	name   string
	clk    clock.Clock
	logger *slog.Logger

	decoder   transform.Transformer
	undecoded []byte
	pending   []byte

	chunks   []*chunkRecord
	sendAt   time.Time
	suffixes map[string]struct{}
}

// New creates an Uploader for the stream named name, writes the
// initial empty-list manifest (so an early client polling before any
// bytes arrive sees "[]" rather than a 404), and publishes the bundled
// static assets (the viewer page) through store.
//
// enc is the source text encoding; pass nil (or encoding.Nop) for a
// stream that is already UTF-8. clk supplies the monotonic clock used
// for the time-triggered flush; logger, if non-nil, receives
// debug-level chunk-publish records.
func New(ctx context.Context, store Store, name string, enc encoding.Encoding, clk clock.Clock, logger *slog.Logger) (*Uploader, error) {
	if enc == nil {
		enc = encoding.Nop
	}
	u := &Uploader{
		store:    store,
		name:     name,
		clk:      clk,
		logger:   logger,
		decoder:  enc.NewDecoder(),
		suffixes: make(map[string]struct{}),
	}

	if err := u.writeManifest(ctx, nil); err != nil {
		return nil, fmt.Errorf("writing initial manifest: %w", err)
	}
	if err := u.scanStaticAssets(ctx); err != nil {
		return nil, fmt.Errorf("publishing static assets: %w", err)
	}

	return u, nil
}

// Write feeds data (raw bytes in the stream's source encoding)
// through the decoder and, depending on final, either flushes a new
// block when the size or time threshold is crossed, or — when
// final is true — writes the consolidated object and deletes every
// chunk object and the manifest.
func (u *Uploader) Write(ctx context.Context, data []byte, final bool) error {
	if err := u.decode(data, final); err != nil {
		return fmt.Errorf("decoding stream: %w", err)
	}

	if final {
		return u.finalize(ctx)
	}

	return u.maybeFlush(ctx)
}

// decode feeds data into the incremental decoder, appending any bytes
// it produces (already UTF-8 — the decoder's pivot encoding) to
// pending. Bytes that form an incomplete multi-byte sequence at the
// end of data are retained in undecoded and prefixed to the next
// call's input.
func (u *Uploader) decode(data []byte, final bool) error {
	u.undecoded = append(u.undecoded, data...)

	dst := make([]byte, 4096)
	for {
		nDst, nSrc, err := u.decoder.Transform(dst, u.undecoded, final)
		if nDst > 0 {
			u.pending = append(u.pending, dst[:nDst]...)
		}
		u.undecoded = u.undecoded[nSrc:]

		switch err {
		case nil:
			return nil
		case transform.ErrShortDst:
			dst = make([]byte, len(dst)*2)
			continue
		case transform.ErrShortSrc:
			if final {
				return fmt.Errorf("truncated multi-byte sequence at end of stream")
			}
			// Wait for more bytes on the next call.
			return nil
		default:
			return err
		}
	}
}

// maybeFlush implements the flush decision: if pending is non-empty,
// arm a deadline the first time it's seen non-empty, and flush once
// either the deadline passes or SizeLimit is reached.
func (u *Uploader) maybeFlush(ctx context.Context) error {
	if len(u.pending) == 0 {
		return nil
	}

	now := u.clk.Now()
	if u.sendAt.IsZero() {
		u.sendAt = now.Add(TimeLimit)
	}

	if !now.Before(u.sendAt) || len(u.pending) >= SizeLimit {
		block := u.pending
		u.pending = nil
		u.sendAt = time.Time{}
		return u.appendBlock(ctx, block)
	}

	return nil
}

// appendBlock is the 2048-game merge: append a new singleton chunk,
// then repeatedly merge the last two chunks while they hold an equal
// number of blocks. This keeps block-counts strictly decreasing and
// each a power of two, bounding the chunk list at O(log n) entries
// for n flushed blocks.
func (u *Uploader) appendBlock(ctx context.Context, block []byte) error {
	u.chunks = append(u.chunks, &chunkRecord{blocks: [][]byte{block}, blockCount: 1})

	for len(u.chunks) >= 2 {
		last := u.chunks[len(u.chunks)-1]
		secondLast := u.chunks[len(u.chunks)-2]
		if last.blockCount != secondLast.blockCount {
			break
		}

		merged := &chunkRecord{
			blocks:     append(append([][]byte(nil), secondLast.blocks...), last.blocks...),
			blockCount: secondLast.blockCount + last.blockCount,
		}
		u.chunks = append(u.chunks[:len(u.chunks)-2], merged)
	}

	return u.publishLastChunk(ctx)
}

// publishLastChunk writes the (possibly just-merged) last chunk as an
// object named by its absolute byte range, then overwrites the
// manifest. The chunk write is awaited before the manifest write
// issues, satisfying the ordering guarantee that a manifest never
// names a chunk object the reader couldn't also fetch.
func (u *Uploader) publishLastChunk(ctx context.Context) error {
	sizes := make([]int, len(u.chunks))
	start := 0
	for i, c := range u.chunks[:len(u.chunks)-1] {
		sizes[i] = c.size()
		start += sizes[i]
	}

	last := u.chunks[len(u.chunks)-1]
	lastSize := last.size()
	sizes[len(u.chunks)-1] = lastSize
	end := start + lastSize

	suffix := fmt.Sprintf("%d-%d", start, end)
	objectName := u.name + "." + suffix

	data := concatBlocks(last.blocks)
	if err := u.store.Write(ctx, objectName, data); err != nil {
		return fmt.Errorf("writing chunk %s: %w", objectName, err)
	}
	u.suffixes[suffix] = struct{}{}

	if u.logger != nil {
		digest := blake3.Sum256(data)
		u.logger.Debug("published chunk",
			"name", objectName,
			"size", len(data),
			"digest", hex.EncodeToString(digest[:8]),
		)
	}

	return u.writeManifest(ctx, sizes)
}

// writeManifest overwrites "{name}.chunks" with the JSON array of
// chunk byte sizes (or "[]" when sizes is nil/empty, used at
// initialisation).
func (u *Uploader) writeManifest(ctx context.Context, sizes []int) error {
	if sizes == nil {
		sizes = []int{}
	}
	data, err := json.Marshal(sizes)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if err := u.store.Write(ctx, u.manifestName(), data); err != nil {
		return err
	}
	u.suffixes[ManifestSuffix] = struct{}{}
	return nil
}

func (u *Uploader) manifestName() string {
	return u.name + "." + ManifestSuffix
}

// finalize writes the consolidated object (every published chunk's
// blocks, in order, plus whatever is still pending) and deletes every
// object this Uploader ever published a suffix for, including the
// manifest. A client polling the manifest afterward sees a 404 and
// knows the stream is done.
func (u *Uploader) finalize(ctx context.Context) error {
	var all []byte
	for _, c := range u.chunks {
		all = append(all, concatBlocks(c.blocks)...)
	}
	all = append(all, u.pending...)
	u.pending = nil

	if err := u.store.Write(ctx, u.name, all); err != nil {
		return fmt.Errorf("writing consolidated object: %w", err)
	}

	names := make([]string, 0, len(u.suffixes))
	for suffix := range u.suffixes {
		names = append(names, u.name+"."+suffix)
	}
	if err := u.store.Delete(ctx, names); err != nil {
		return fmt.Errorf("deleting chunks and manifest: %w", err)
	}

	u.suffixes = make(map[string]struct{})
	u.chunks = nil
	return nil
}

func concatBlocks(blocks [][]byte) []byte {
	var out []byte
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}
