// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package generation tracks the lifetimes of successive service graphs.
//
// Each reload produces a new [Generation]: a graph, a monotonic id,
// and a live count. Request handling holds a [Guard] for the
// generation it was dispatched to; cloning a guard increments the live
// count and releasing it decrements. Once a generation is superseded
// by a newer one and its live count reaches zero, the arena's teardown
// hook runs exactly once, the generation is removed from the [Arena],
// and [Generation.Done] is closed.
//
// Lifecycle of one generation:
//
//	Arena.Create        live=1 (the creator's guard), active
//	Guard.Clone         live+1
//	Guard.Release       live-1
//	Generation.Supersede   no new guards will be handed out by the
//	                       publisher; existing guards keep working
//	live==0 && superseded  teardown, exactly once
//
// A generation that is still active is never torn down, even at live
// zero: whoever published it holds a guard for as long as it is
// published. Supersession of a generation whose count is already zero
// tears it down immediately.
//
// Teardown runs on its own goroutine, started by whichever call
// observed the final transition (the last Release or the Supersede).
// The releasing goroutine (often an HTTP handler) does not wait for
// storage to close. Failures are reported as [*TeardownError] to the
// logger and to Config.OnTeardown; they are never returned to the code
// that released the guard.
//
// Per-request acquisition uses [Generation.TryAcquire], which refuses
// to increment a count that has already reached zero. A dispatcher
// that loses that race re-reads its published pointer and tries again
// on the newer generation.
package generation
