// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Record is a log record as seen by a Capture. Attrs are flattened:
// attributes inside groups carry dotted keys ("request.path").
type Record struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// Filter decides whether a Capture receives a record. ctx is the
// context the record was logged with.
type Filter func(ctx context.Context, record Record) bool

// Capture is a diagnostic sink. The zero value is not usable; create
// one with New.
type Capture struct {
	filter  Filter
	deliver func(Record)
}

// New returns a Capture that passes records accepted by filter to
// deliver. A nil filter accepts everything. deliver may be called from
// many goroutines at once.
func New(filter Filter, deliver func(Record)) *Capture {
	return &Capture{filter: filter, deliver: deliver}
}

func (c *Capture) offer(ctx context.Context, record Record) {
	if c.filter != nil && !c.filter(ctx, record) {
		return
	}
	c.deliver(record)
}

// Registry is the set of active captures. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	captures []*Capture
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers capture. Adding a capture that is already registered
// is a no-op.
func (r *Registry) Add(capture *Capture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.captures, capture) {
		return
	}
	r.captures = append(r.captures, capture)
}

// Remove unregisters capture. Removing an absent capture is a no-op.
// Order of the remaining captures is not preserved.
func (r *Registry) Remove(capture *Capture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := slices.Index(r.captures, capture)
	if index < 0 {
		return
	}
	last := len(r.captures) - 1
	r.captures[index] = r.captures[last]
	r.captures[last] = nil
	r.captures = r.captures[:last]
}

// Len returns the number of registered captures.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.captures)
}

// Start registers capture and returns a function that removes it.
func (r *Registry) Start(capture *Capture) (stop func()) {
	r.Add(capture)
	return func() { r.Remove(capture) }
}

// snapshot copies the capture list so delivery runs without the lock.
func (r *Registry) snapshot() []*Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.captures) == 0 {
		return nil
	}
	return slices.Clone(r.captures)
}

type tagKey struct{}

// WithTag returns a copy of ctx carrying tag. Records logged with the
// returned context (or a descendant) match Tagged(tag).
func WithTag(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, tagKey{}, tag)
}

// Tagged returns a Filter accepting records logged with a context
// carrying tag.
func Tagged(tag string) Filter {
	return func(ctx context.Context, _ Record) bool {
		if ctx == nil {
			return false
		}
		value, _ := ctx.Value(tagKey{}).(string)
		return value == tag
	}
}

// AtLeast returns a Filter accepting records at level or above.
func AtLeast(level slog.Level) Filter {
	return func(_ context.Context, record Record) bool {
		return record.Level >= level
	}
}
