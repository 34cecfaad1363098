// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// Handler is a slog.Handler that forwards to an inner handler and
// offers every record to the registry's captures.
type Handler struct {
	inner    slog.Handler
	registry *Registry
	attrs    []slog.Attr
	groups   []string
}

// NewHandler wraps inner so that records are also delivered to the
// captures in registry.
func NewHandler(inner slog.Handler, registry *Registry) *Handler {
	return &Handler{inner: inner, registry: registry}
}

// Enabled reports true when the inner handler wants the level, or when
// any capture is registered. Captures see records below the inner
// handler's level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level) || h.registry.Len() > 0
}

// Handle forwards to the inner handler and then to each capture. The
// inner handler's error is returned; captures cannot fail.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	var err error
	if h.inner.Enabled(ctx, record.Level) {
		err = h.inner.Handle(ctx, record)
	}

	captures := h.registry.snapshot()
	if len(captures) == 0 {
		return err
	}

	captured := Record{
		Time:    record.Time,
		Level:   record.Level,
		Message: record.Message,
		Attrs:   slices.Clone(h.attrs),
	}
	prefix := h.prefix()
	record.Attrs(func(attr slog.Attr) bool {
		captured.Attrs = appendFlattened(captured.Attrs, prefix, attr)
		return true
	})

	for _, capture := range captures {
		capture.offer(ctx, captured)
	}
	return err
}

// WithAttrs returns a handler whose records carry attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.inner = h.inner.WithAttrs(attrs)
	prefix := h.prefix()
	for _, attr := range attrs {
		clone.attrs = appendFlattened(clone.attrs, prefix, attr)
	}
	return clone
}

// WithGroup returns a handler that nests subsequent attrs under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.inner = h.inner.WithGroup(name)
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *Handler) clone() *Handler {
	return &Handler{
		inner:    h.inner,
		registry: h.registry,
		attrs:    slices.Clip(h.attrs),
		groups:   slices.Clip(h.groups),
	}
}

func (h *Handler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

func appendFlattened(attrs []slog.Attr, prefix string, attr slog.Attr) []slog.Attr {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, member := range value.Group() {
			attrs = appendFlattened(attrs, groupPrefix, member)
		}
		return attrs
	}
	if attr.Key == "" {
		return attrs
	}
	return append(attrs, slog.Attr{Key: prefix + attr.Key, Value: value})
}
