// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Matrix error codes the server answers with.
const (
	CodeNotFound     = "M_NOT_FOUND"
	CodeUnrecognized = "M_UNRECOGNIZED"
	CodeUnknown      = "M_UNKNOWN"
	CodeMissingParam = "M_MISSING_PARAM"
	CodeTooLarge     = "M_TOO_LARGE"
)

// MatrixError is a Matrix API error response. Callers can use
// errors.As to extract it from a wrapped error:
//
//	var matrixErr *apierror.MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == apierror.CodeNotFound { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_NOT_FOUND").
	Code string `json:"errcode"`
	// Message is the human-readable description.
	Message string `json:"error"`
	// Details carries optional diagnostic data (panic values).
	Details any `json:"details,omitempty"`
	// StatusCode is the HTTP status the error is written with.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// New returns a MatrixError with the given status, code, and message.
func New(statusCode int, code, message string) *MatrixError {
	return &MatrixError{Code: code, Message: message, StatusCode: statusCode}
}

// Unrecognized is the answer for a path or method the server does not
// serve.
func Unrecognized(statusCode int) *MatrixError {
	return New(statusCode, CodeUnrecognized, http.StatusText(statusCode))
}

// NotFound reports a missing resource.
func NotFound(message string) *MatrixError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// MissingParam reports a required query or body parameter that was
// not supplied.
func MissingParam(name string) *MatrixError {
	return New(http.StatusBadRequest, CodeMissingParam, fmt.Sprintf("missing required parameter %q", name))
}

// Unknown reports an internal failure.
func Unknown(message string) *MatrixError {
	return New(http.StatusInternalServerError, CodeUnknown, message)
}

// Is reports whether err is a *MatrixError with the given code.
func Is(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// WriteJSON encodes value as the response body with the given status.
// Encoding failures after the header is sent are logged to logger,
// which may be nil.
func WriteJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(value); err != nil && logger != nil {
		logger.Warn("writing JSON response", "error", err, "status", statusCode)
	}
}

// Write sends err to the client. A *MatrixError anywhere in err's
// chain is written as-is; any other error becomes a 500 M_UNKNOWN
// whose message is err's text.
func Write(w http.ResponseWriter, logger *slog.Logger, err error) {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		matrixErr = Unknown(err.Error())
	}
	statusCode := matrixErr.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	WriteJSON(w, logger, statusCode, matrixErr)
}
