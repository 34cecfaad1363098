// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"time"

	"github.com/continuwuity/continuwuity-sub001/lib/config"
)

// Globals holds per-graph values derived from configuration at build
// time.
type Globals struct {
	ServerName string

	// WellKnownClient and WellKnownServer are the delegation targets;
	// empty when not configured.
	WellKnownClient string
	WellKnownServer string

	// ConfigDigest identifies the configuration file contents the graph
	// was built from.
	ConfigDigest string
	ConfigPath   string

	// BuiltAt is when Build assembled this graph.
	BuiltAt time.Time
}

func newGlobals(cfg *config.Config, builtAt time.Time) *Globals {
	return &Globals{
		ServerName:      cfg.Server.Name,
		WellKnownClient: cfg.Server.WellKnown.Client,
		WellKnownServer: cfg.Server.WellKnown.Server,
		ConfigDigest:    cfg.Digest,
		ConfigPath:      cfg.Path,
		BuiltAt:         builtAt,
	}
}
