// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture delivers log records to short-lived diagnostic sinks.
//
// A [Registry] is a process-wide set of [Capture] values, created once
// in main and shared by every generation. [Handler] wraps the process
// slog handler: each record still goes to the wrapped handler, and is
// additionally offered to every registered Capture whose filter
// accepts it. Captures are identified by pointer; adding the same
// Capture twice keeps one entry.
//
// The admin reload action uses this to return the log lines a reload
// produced: it tags its context with [WithTag], registers a Capture
// filtered by [Tagged], triggers the reload, and removes the Capture.
// [Buffer] accumulates the captured records as markdown and renders
// them to HTML with goldmark.
package capture
