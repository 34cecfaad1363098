// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package features

import (
	"maps"
	"slices"
	"sync"
)

// Registry maps component names to their enabled feature names. Safe
// for concurrent use.
type Registry struct {
	mu         sync.Mutex
	components map[string][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string][]string)}
}

// Register records features for component, merging with anything
// already registered. Duplicates are dropped; the stored list is
// sorted.
func (r *Registry) Register(component string, features ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := append(slices.Clone(r.components[component]), features...)
	slices.Sort(merged)
	r.components[component] = slices.Compact(merged)
}

// Enabled reports whether component registered feature.
func (r *Registry) Enabled(component, feature string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, found := slices.BinarySearch(r.components[component], feature)
	return found
}

// Snapshot returns a deep copy of the registry contents.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[string][]string, len(r.components))
	for component, features := range r.components {
		snapshot[component] = slices.Clone(features)
	}
	return snapshot
}

// Components returns the registered component names, sorted.
func (r *Registry) Components() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.components))
}
