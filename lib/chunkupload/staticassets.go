// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

package chunkupload

import (
	"context"
	"embed"
	"fmt"
)

//go:embed static
var staticAssets embed.FS

// scanStaticAssets publishes every file under the embedded static/
// directory (currently just the viewer page) through the store,
// un-prefixed — "static/viewer.html" is published as "viewer.html".
// Run once at Uploader construction.
func (u *Uploader) scanStaticAssets(ctx context.Context) error {
	entries, err := staticAssets.ReadDir("static")
	if err != nil {
		return fmt.Errorf("reading embedded static assets: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := staticAssets.ReadFile("static/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading embedded asset %q: %w", entry.Name(), err)
		}
		if err := u.store.Write(ctx, entry.Name(), data); err != nil {
			return fmt.Errorf("publishing static asset %q: %w", entry.Name(), err)
		}
	}

	return nil
}
