// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the sink streamcap writes objects to: a
// minimal three-operation capability set that both a local directory
// and a remote S3-compatible bucket can satisfy. indexedstore wraps an
// [Adapter]; attachments and chunkupload depend on their own narrower
// interfaces, which that wrapper satisfies. None of them cares which
// realisation is behind it.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrHasUnsupported is returned by an Adapter's Has method when the
// adapter does not track membership itself and expects to always be
// wrapped by an indexedstore.Store, which tracks names locally. Calling
// Has directly on a bare adapter is a programming error, not a
// transient condition, so it fails loudly rather than guessing.
var ErrHasUnsupported = errors.New("storage: Has is not supported on a bare adapter; wrap it in indexedstore.Store")

// Adapter is the capability set a storage backend must provide.
// Implementations must be safe for concurrent use.
//
// All three methods are synchronous from the caller's point of view:
// they return only once the backend has durably accepted the
// operation (for the local adapter, once the rename completing an
// atomic write has returned; for the remote adapter, once the PUT or
// DELETE request has been acknowledged, including any adapter-internal
// retries).
type Adapter interface {
	// Has reports whether an object with the given name currently
	// exists. Adapters that are always used behind an indexedstore.Store
	// may return ErrHasUnsupported instead of doing the work.
	Has(ctx context.Context, name string) (bool, error)

	// Write stores data under name, overwriting any existing object
	// of the same name.
	Write(ctx context.Context, name string, data []byte) error

	// Delete removes the named objects. Deleting a name that does not
	// exist is not an error.
	Delete(ctx context.Context, names []string) error
}

// ContentType derives a MIME type from an object name's suffix:
// ".html" pages render as HTML, ".chunks" manifests are JSON, and
// everything else — including chunk objects and attachments — is
// served as UTF-8 plain text.
func ContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(name, ".chunks"):
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}
