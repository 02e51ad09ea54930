// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

package indexedstore

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
)

// renderIndex authors a small Markdown document listing names (sorted,
// with a human-readable size where known) and renders it to HTML via
// goldmark. The HTML has no semantic role for any client in this
// system — it exists purely for a person browsing the bucket in a
// web browser.
func renderIndex(names []string, sizes map[string]int64) ([]byte, error) {
	var md strings.Builder
	md.WriteString("# Index\n\n")

	if len(names) == 0 {
		md.WriteString("_empty_\n")
	} else {
		md.WriteString("| Name | Size |\n")
		md.WriteString("| --- | --- |\n")
		for _, name := range names {
			size := "-"
			if s, ok := sizes[name]; ok {
				size = humanize.Bytes(uint64(s))
			}
			fmt.Fprintf(&md, "| [%s](./%s) | %s |\n", name, name, size)
		}
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &html); err != nil {
		return nil, fmt.Errorf("rendering index: %w", err)
	}
	return html.Bytes(), nil
}
