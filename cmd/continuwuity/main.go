// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/continuwuity/continuwuity-sub001/lib/capture"
	"github.com/continuwuity/continuwuity-sub001/lib/config"
	"github.com/continuwuity/continuwuity-sub001/lib/control"
	"github.com/continuwuity/continuwuity-sub001/lib/features"
	"github.com/continuwuity/continuwuity-sub001/lib/generation"
	"github.com/continuwuity/continuwuity-sub001/lib/httpserver"
	"github.com/continuwuity/continuwuity-sub001/lib/metrics"
	"github.com/continuwuity/continuwuity-sub001/lib/process"
	"github.com/continuwuity/continuwuity-sub001/lib/reload"
	"github.com/continuwuity/continuwuity-sub001/lib/router"
	"github.com/continuwuity/continuwuity-sub001/lib/services"
	"github.com/continuwuity/continuwuity-sub001/lib/version"
)

// shutdownTimeout bounds the wait for generations to tear down after
// the listeners have stopped.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("continuwuity", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the configuration file (default: $"+config.EnvVar+")")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println(version.Full())
		return nil
	}
	if configPath == "" {
		configPath = os.Getenv(config.EnvVar)
	}
	if configPath == "" {
		return fmt.Errorf("no configuration file: pass --config or set %s", config.EnvVar)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration %s: %w", configPath, err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel())
	captures := capture.NewRegistry()
	logger := newLogger(os.Stderr, level, captures)
	slog.SetDefault(logger)

	logger.Info("starting", "version", version.Server(), "config", configPath, "environment", cfg.Environment)
	if limit, err := process.RaiseFileLimit(); err != nil {
		logger.Warn("raising file descriptor limit", "error", err)
	} else {
		logger.Debug("file descriptor limit", "previous", limit.Previous, "current", limit.Current)
	}

	featureRegistry := features.NewRegistry()
	registerFeatures(featureRegistry)
	collectors := metrics.New()

	loader := newLoader(configPath, cfg, level, logger)
	controller, err := reload.New(reload.Config[*services.Services]{
		Load: loader.load,
		Route: func(arena *generation.Arena[*services.Services], graph *services.Services) (http.Handler, *generation.Guard[*services.Services]) {
			return router.Build(arena, graph, router.Options{Logger: logger, Metrics: collectors})
		},
		Teardown: func(graph *services.Services) error { return graph.Close() },
		Logger:   logger,
		Metrics:  collectors,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := controller.Trigger(ctx); err != nil {
		return err
	}

	httpServer := httpserver.New(httpserver.Config{
		Address:           cfg.Server.Address,
		Handler:           controller,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		Logger:            logger,
	})
	controlServer := control.NewServer(cfg.Control.SocketPath, logger)
	control.Register(controlServer, control.Deps{
		Reloader: controller,
		Captures: captures,
		Features: featureRegistry,
		Logger:   logger,
	})

	httpDone := make(chan error, 1)
	go func() { httpDone <- httpServer.Serve(ctx) }()
	controlDone := make(chan error, 1)
	go func() { controlDone <- controlServer.Serve(ctx) }()

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	var serveErr error
	for serveErr == nil && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-hangup:
			logger.Info("SIGHUP received, reloading")
			if _, err := controller.Trigger(ctx); err != nil {
				logger.Error("reload failed", "error", err)
			}
		case err := <-httpDone:
			serveErr = fmt.Errorf("http server: %w", unexpectedStop(err))
			httpDone <- nil
		case err := <-controlDone:
			serveErr = fmt.Errorf("control socket: %w", unexpectedStop(err))
			controlDone <- nil
		}
	}

	logger.Info("shutting down")
	stop()
	if err := <-httpDone; err != nil {
		logger.Error("http server", "error", err)
	}
	if err := <-controlDone; err != nil {
		logger.Error("control socket", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controller.Close(closeCtx); err != nil {
		logger.Error("tearing down generations", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	logger.Info("stopped")
	return serveErr
}

// unexpectedStop reports a listener that returned before shutdown.
func unexpectedStop(err error) error {
	if err == nil {
		return errors.New("stopped unexpectedly")
	}
	return err
}

func registerFeatures(registry *features.Registry) {
	registry.Register("storage", "sqlite")
	registry.Register("cache", config.CacheMemory, config.CacheRedis)
	registry.Register("http", "cors", "gzip", "metrics", "tracing")
	registry.Register("control", "capture", "registration_tokens", "reload")
}
