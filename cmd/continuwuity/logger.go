// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/continuwuity/continuwuity-sub001/lib/capture"
)

// newLogger writes text to a terminal and JSON otherwise. Every record
// is also offered to the capture registry, whatever the level.
func newLogger(output io.Writer, level slog.Leveler, captures *capture.Registry) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if file, ok := output.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(capture.NewHandler(handler, captures))
}
