// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package features records which optional capabilities each component
// of the running binary was built or configured with. main populates
// a [Registry] at startup; the admin "features" action reports it.
//
// The registry lists what the binary supports, not what the current
// configuration selects, so a reload never changes it.
package features
