// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/continuwuity/continuwuity-sub001/lib/config"
	"github.com/continuwuity/continuwuity-sub001/lib/services"
)

// loader builds a service graph from the configuration file. The first
// call uses the configuration read at startup; later calls re-read the
// file.
type loader struct {
	path   string
	level  *slog.LevelVar
	logger *slog.Logger

	// address and socketPath are bound once at startup.
	address    string
	socketPath string

	mu      sync.Mutex
	initial *config.Config
}

func newLoader(path string, initial *config.Config, level *slog.LevelVar, logger *slog.Logger) *loader {
	return &loader{
		path:       path,
		level:      level,
		logger:     logger,
		address:    initial.Server.Address,
		socketPath: initial.Control.SocketPath,
		initial:    initial,
	}
}

func (l *loader) next() (*config.Config, error) {
	l.mu.Lock()
	cfg := l.initial
	l.initial = nil
	l.mu.Unlock()
	if cfg != nil {
		return cfg, nil
	}
	return config.LoadFile(l.path)
}

func (l *loader) load(ctx context.Context) (*services.Services, error) {
	cfg, err := l.next()
	if err != nil {
		return nil, &services.ConfigError{Err: err}
	}
	if cfg.Server.Address != l.address {
		l.logger.WarnContext(ctx, "server.address changed; restart to listen on the new address",
			"current", l.address, "configured", cfg.Server.Address)
	}
	if cfg.Control.SocketPath != l.socketPath {
		l.logger.WarnContext(ctx, "control.socket_path changed; restart to move the control socket",
			"current", l.socketPath, "configured", cfg.Control.SocketPath)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, &services.StorageOpenError{Resource: "database", Err: err}
	}

	graph, err := services.Build(ctx, cfg, services.Options{Logger: l.logger})
	if err != nil {
		return nil, err
	}
	if level := cfg.LogLevel(); level != l.level.Level() {
		l.logger.InfoContext(ctx, "log level changed", "level", level.String())
		l.level.Set(level)
	}
	return graph, nil
}
