// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package apierror defines the Matrix error body and the JSON response
// writers shared by every HTTP handler.
//
// Matrix APIs report failures as {"errcode": "...", "error": "..."}
// with an HTTP status chosen per error. [MatrixError] carries all
// three and implements error, so service code can return one and the
// handler can write it unchanged with [Write].
package apierror
