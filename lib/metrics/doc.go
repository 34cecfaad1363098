// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the process-wide Prometheus collectors.
//
// Collectors are registered once per process, not per generation: a
// reload builds a new router, and registering the same collector names
// again would fail. Routers and the reload controller receive a
// *Metrics and record into it.
//
// A nil *Metrics is valid everywhere and records nothing, so tests and
// tools can pass nil instead of building a registry.
package metrics
