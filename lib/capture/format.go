// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
)

// Buffer accumulates captured records as a markdown list. Safe for
// concurrent use.
type Buffer struct {
	mu      sync.Mutex
	builder strings.Builder
	count   int
}

// Append writes record as one markdown list item.
func (b *Buffer) Append(record Record) {
	line := FormatMarkdown(record)
	b.mu.Lock()
	b.builder.WriteString(line)
	b.count++
	b.mu.Unlock()
}

// Len returns the number of records appended.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Markdown returns the accumulated markdown.
func (b *Buffer) Markdown() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builder.String()
}

// HTML renders the accumulated markdown. Raw HTML in log messages is
// not passed through.
func (b *Buffer) HTML() (string, error) {
	return RenderHTML(b.Markdown())
}

// FormatMarkdown renders one record as a markdown list item:
//
//   - `INFO` generation published `generation=2`
func FormatMarkdown(record Record) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "- `%s` %s", record.Level.String(), escapeMarkdown(record.Message))
	for _, attr := range record.Attrs {
		fmt.Fprintf(&builder, " `%s=%s`", attr.Key, strings.ReplaceAll(attr.Value.String(), "`", "'"))
	}
	builder.WriteByte('\n')
	return builder.String()
}

// RenderHTML converts markdown to HTML with goldmark's defaults.
func RenderHTML(markdown string) (string, error) {
	var output bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &output); err != nil {
		return "", fmt.Errorf("rendering captured output: %w", err)
	}
	return output.String(), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"<", `\<`,
	"\n", " ",
)

func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}
