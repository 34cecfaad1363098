// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package generation

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrGuardReleased is returned by Guard.Release on a guard that has
// already been released. The live count is not changed.
var ErrGuardReleased = errors.New("generation: guard already released")

// TeardownError reports a failed teardown hook. The generation is
// still removed from the arena: a failed teardown is not retried.
type TeardownError struct {
	Generation uint64
	Err        error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("tearing down generation %d: %v", e.Generation, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

// Generation is one service graph plus its lifetime bookkeeping.
type Generation[G any] struct {
	id        uint64
	graph     G
	createdAt time.Time
	arena     *Arena[G]

	live       atomic.Int64
	superseded atomic.Bool
	tornDown   atomic.Bool
	done       chan struct{}
}

// ID returns the generation's arena-unique, monotonically increasing id.
func (g *Generation[G]) ID() uint64 { return g.id }

// Graph returns the service graph.
func (g *Generation[G]) Graph() G { return g.graph }

// CreatedAt returns when the arena created the generation.
func (g *Generation[G]) CreatedAt() time.Time { return g.createdAt }

// Live returns the number of unreleased guards.
func (g *Generation[G]) Live() int64 { return g.live.Load() }

// Superseded reports whether Supersede has been called.
func (g *Generation[G]) Superseded() bool { return g.superseded.Load() }

// TornDown reports whether teardown has started. It becomes true
// exactly once and never reverts.
func (g *Generation[G]) TornDown() bool { return g.tornDown.Load() }

// Done returns a channel closed after the teardown hook has returned
// and the generation has been removed from the arena.
func (g *Generation[G]) Done() <-chan struct{} { return g.done }

// Supersede marks the generation as replaced. Idempotent. Existing
// guards are unaffected; if the live count is already zero, teardown
// starts now.
func (g *Generation[G]) Supersede() {
	if g.superseded.Swap(true) {
		return
	}
	if g.live.Load() == 0 {
		g.beginTeardown()
	}
}

// TryAcquire returns a new guard if the generation still has at least
// one live guard. A count that has reached zero is never revived, so
// a false result means the generation is draining or gone and the
// caller must acquire from a newer generation.
func (g *Generation[G]) TryAcquire() (*Guard[G], bool) {
	for {
		current := g.live.Load()
		if current <= 0 {
			return nil, false
		}
		if g.live.CompareAndSwap(current, current+1) {
			return &Guard[G]{generation: g}, true
		}
	}
}

// State returns the generation's (graph, generation) snapshot.
func (g *Generation[G]) State() State[G] {
	return State[G]{Graph: g.graph, Generation: g}
}

func (g *Generation[G]) release() {
	remaining := g.live.Add(-1)
	if remaining < 0 {
		panic(fmt.Sprintf("generation %d: live count went negative", g.id))
	}
	if remaining == 0 && g.superseded.Load() {
		g.beginTeardown()
	}
}

// beginTeardown is reached from both the last Release and Supersede.
// Both may observe the final transition; the CAS picks one.
func (g *Generation[G]) beginTeardown() {
	if !g.tornDown.CompareAndSwap(false, true) {
		return
	}
	go g.arena.teardown(g)
}

// State is the immutable (graph, generation) pair a router is bound
// to. It is captured once and never updated in place.
type State[G any] struct {
	Graph      G
	Generation *Generation[G]
}

// Guard is one counted reference to a generation.
type Guard[G any] struct {
	generation *Generation[G]
	released   atomic.Bool
}

// Generation returns the guarded generation.
func (g *Guard[G]) Generation() *Generation[G] { return g.generation }

// State returns the guarded generation's state.
func (g *Guard[G]) State() State[G] { return g.generation.State() }

// Clone returns an independent guard for the same generation. Cloning
// a released guard is a programming error and panics: the generation
// may already be tearing down.
func (g *Guard[G]) Clone() *Guard[G] {
	if g.released.Load() {
		panic(fmt.Sprintf("generation %d: Clone of a released guard", g.generation.id))
	}
	g.generation.live.Add(1)
	return &Guard[G]{generation: g.generation}
}

// Release drops the guard's reference. The first call returns nil; any
// further call returns ErrGuardReleased and changes nothing.
func (g *Guard[G]) Release() error {
	if !g.released.CompareAndSwap(false, true) {
		return ErrGuardReleased
	}
	g.generation.release()
	return nil
}
