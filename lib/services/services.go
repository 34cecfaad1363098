// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/continuwuity/continuwuity-sub001/lib/clock"
	"github.com/continuwuity/continuwuity-sub001/lib/config"
	"github.com/continuwuity/continuwuity-sub001/lib/sqlitepool"
)

// Options carries process-wide dependencies into Build.
type Options struct {
	// Logger is used by every service in the graph. If nil, a no-op
	// logger is used.
	Logger *slog.Logger

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Services is one generation's service graph.
type Services struct {
	Config             *config.Config
	Globals            *Globals
	Storage            *sqlitepool.Pool
	Cache              Cache
	RegistrationTokens *RegistrationTokens

	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Build constructs a service graph from cfg. Configuration problems
// return *ConfigError; resources that cannot be opened return
// *StorageOpenError. On any error, every resource opened so far has
// been closed.
func Build(ctx context.Context, cfg *config.Config, options Options) (*Services, error) {
	if cfg == nil {
		return nil, &ConfigError{Err: errors.New("no configuration")}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	staticToken, err := readStaticToken(cfg.Registration)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	logger.InfoContext(ctx, "building service graph",
		"server_name", cfg.Server.Name,
		"database", cfg.Database.Path,
		"cache", cfg.Cache.Backend,
		"config_digest", cfg.Digest,
	)

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Database.Path,
		PoolSize: cfg.Database.PoolSize,
		Schema:   registrationTokenSchema,
		Logger:   logger,
	})
	if err != nil {
		return nil, &StorageOpenError{Resource: "database", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, &StorageOpenError{Resource: "database", Err: errors.Join(err, pool.Close())}
	}

	cache, err := openCache(ctx, cfg.Cache, clk)
	if err != nil {
		return nil, &StorageOpenError{Resource: "cache", Err: errors.Join(err, pool.Close())}
	}

	services := &Services{
		Config:             cfg,
		Globals:            newGlobals(cfg, clk.Now()),
		Storage:            pool,
		Cache:              cache,
		RegistrationTokens: newRegistrationTokens(staticToken, pool, cache, cfg.Cache.TTL, clk, logger),
		logger:             logger,
	}
	logger.InfoContext(ctx, "service graph built", "server_name", cfg.Server.Name)
	return services, nil
}

// Close releases the graph's resources. Safe to call more than once;
// later calls return the first call's result.
func (s *Services) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
		if err := s.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		if s.closeErr == nil {
			s.logger.Debug("service graph closed", "server_name", s.Globals.ServerName)
		}
	})
	return s.closeErr
}

func readStaticToken(cfg config.RegistrationConfig) (string, error) {
	if cfg.TokenFile == "" {
		return cfg.Token, nil
	}
	data, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading registration.token_file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("registration.token_file %s is empty", cfg.TokenFile)
	}
	return token, nil
}
