// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/continuwuity/continuwuity-sub001/lib/apierror"
	"github.com/continuwuity/continuwuity-sub001/lib/generation"
	"github.com/continuwuity/continuwuity-sub001/lib/metrics"
	"github.com/continuwuity/continuwuity-sub001/lib/services"
)

const tracerName = "github.com/continuwuity/continuwuity-sub001/lib/router"

// State is the snapshot every handler of one router is bound to.
type State = generation.State[*services.Services]

// Options carries process-wide collaborators into Build.
type Options struct {
	// Logger receives request and panic logs. If nil, a no-op logger
	// is used.
	Logger *slog.Logger

	// Metrics is the process-wide collector set. May be nil.
	Metrics *metrics.Metrics

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

// Router serves HTTP for exactly one generation.
type Router struct {
	handler http.Handler
	state   State
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, request *http.Request) {
	r.handler.ServeHTTP(w, request)
}

// State returns the snapshot the router's handlers are bound to.
func (r *Router) State() State {
	return r.state
}

// Build creates a generation for graph and a router bound to it. The
// returned guard keeps the generation alive; whoever publishes the
// router owns it and releases it after superseding the generation.
func Build(arena *generation.Arena[*services.Services], graph *services.Services, options Options) (*Router, *generation.Guard[*services.Services]) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracer := options.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	state, guard := arena.Create(graph)
	logger = logger.With("generation", state.Generation.ID())
	httpConfig := graph.Config.HTTP

	handlers := &handlers{state: state, logger: logger}

	mux := chi.NewRouter()
	mux.Use(
		middleware.RequestID,
		observe(state, tracer, options.Metrics, logger),
	)
	if httpConfig.GzipCompression {
		mux.Use(compress)
	}
	mux.Use(
		securityHeaders,
		cors,
		limitBody(httpConfig.MaxRequestSize),
		catchPanic(options.Metrics, logger),
	)

	mux.NotFound(notFound)
	mux.MethodNotAllowed(methodNotAllowed)

	mux.Get("/_matrix/client/versions", handlers.clientVersions)
	mux.Get("/.well-known/matrix/client", handlers.wellKnownClient)
	mux.Get("/.well-known/matrix/server", handlers.wellKnownServer)
	mux.Get("/_matrix/federation/v1/version", handlers.federationVersion)
	mux.Get("/_matrix/client/v1/register/m.login.registration_token/validity", handlers.registrationTokenValidity)
	mux.Get("/_continuwuity/server_version", handlers.serverVersion)
	mux.Get("/_continuwuity/generation", handlers.generationInfo)
	if options.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", options.Metrics.Handler())
	}

	return &Router{handler: mux, state: state}, guard
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	apierror.Write(w, nil, apierror.Unrecognized(http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	apierror.Write(w, nil, apierror.Unrecognized(http.StatusMethodNotAllowed))
}
