// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package services builds the service graph a generation serves
// requests from.
//
// [Build] turns a validated configuration into a [Services] value: a
// sqlite pool, a lookup cache (in-memory or redis), process globals,
// and the registration token service. The graph is immutable after
// Build returns and safe for concurrent reads. Build never returns a
// partial graph: if any resource fails to open, everything opened
// before it is closed and the error is returned as [*ConfigError] or
// [*StorageOpenError].
//
// A Services value is owned by exactly one generation. [Services.Close]
// runs from that generation's teardown, after the last request using
// it has finished.
package services
