// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package reload replaces the running service graph without stopping
// the server.
//
// A [Controller] moves through four phases:
//
//	Idle -> Loading -> Publishing -> Draining -> Idle
//
// Loading calls the [Loader] to build a candidate graph. If that fails
// the controller returns to Idle, the published generation is left
// alone, and the loader's error is returned to the caller unchanged.
// Publishing builds a router for the candidate (which creates its
// generation in the arena), swaps the published pointer, supersedes
// the previous generation and releases the previous router's guard.
// The previous generation is then torn down by whichever request
// releases its last guard. Trigger returns once publication is done;
// it does not wait for the drain.
//
// Only one cycle runs at a time. A Trigger that finds the controller
// anywhere but Idle fails immediately with [ErrReloadInProgress].
//
// The controller is also the server's http.Handler. Each request
// acquires a guard on the published generation with TryAcquire and
// holds it until the response is written, so a request that started
// on generation N finishes on generation N.
package reload
