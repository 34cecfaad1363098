// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpserver runs the client/federation HTTP listener.
//
// The server does not know about generations: its handler is the
// reload controller, which picks the generation per request. Shutdown
// stops accepting connections and waits for in-flight requests, so the
// generations they hold can drain before the controller is closed.
package httpserver
