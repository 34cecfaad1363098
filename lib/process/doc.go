// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the server
// and admin binaries:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Raising the open file descriptor limit before storage and
//     listeners are opened. Every generation holds its own sqlite pool
//     and a draining generation keeps its descriptors until teardown,
//     so two full graphs can be open at once during a reload.
package process
