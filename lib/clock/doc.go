// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Services that make time-dependent decisions (registration token
// expiry, generation timestamps, uptime) take a Clock instead of
// calling time.Now directly. Production code passes Real(); tests pass
// Fake() and move time explicitly with Advance or Set.
package clock
