// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package router builds the HTTP route table for one generation.
//
// [Build] creates the generation in the arena, binds every handler to
// that generation's [generation.State], and returns the router
// together with the generation's first guard. Handlers read the graph
// from the state they were built with and never look anything up
// globally, so a request dispatched to generation N is served entirely
// by generation N's services even if a reload publishes N+1 while it
// runs.
//
// Any path the table does not know answers 404 with
// {"errcode":"M_UNRECOGNIZED","error":"Not Found"}, whatever the
// method. A known path with an unsupported method answers 405 with the
// same errcode.
//
// Layers, outermost first: tracing and metrics, gzip compression (when
// enabled), security headers, CORS, request body limit, panic
// recovery.
package router
