// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package reload

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/continuwuity/continuwuity-sub001/lib/apierror"
	"github.com/continuwuity/continuwuity-sub001/lib/clock"
	"github.com/continuwuity/continuwuity-sub001/lib/generation"
	"github.com/continuwuity/continuwuity-sub001/lib/metrics"
)

const tracerName = "github.com/continuwuity/continuwuity-sub001/lib/reload"

var (
	// ErrReloadInProgress is returned by Trigger when another reload
	// has not finished publishing.
	ErrReloadInProgress = errors.New("reload already in progress")

	// ErrClosed is returned by Trigger and Acquire after Close.
	ErrClosed = errors.New("reload controller closed")

	// ErrNotPublished is returned by Acquire before the first
	// successful Trigger.
	ErrNotPublished = errors.New("no generation published")

	// ErrDrained is returned by AcquireGeneration for a generation
	// that has been torn down or is draining its last guard.
	ErrDrained = errors.New("generation drained")
)

// Loader builds a fresh graph. It is called once per Trigger and must
// either return a complete graph or release everything it acquired.
type Loader[G any] func(ctx context.Context) (G, error)

// RouteFunc builds the request handler for graph. It must create the
// generation through arena and return the handler together with that
// generation's first guard.
type RouteFunc[G any] func(arena *generation.Arena[G], graph G) (http.Handler, *generation.Guard[G])

// Config configures a Controller.
type Config[G any] struct {
	// Load builds candidate graphs. Required.
	Load Loader[G]

	// Route builds the handler for a published graph. Required.
	Route RouteFunc[G]

	// Teardown releases a drained graph's resources.
	Teardown func(graph G) error

	// Logger defaults to a no-op logger.
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Result describes a successful reload.
type Result struct {
	// Generation is the id of the newly published generation.
	Generation uint64

	// Previous is the id of the superseded generation, or zero if
	// nothing was published before.
	Previous uint64

	// Duration is the time from trigger to publication.
	Duration time.Duration
}

// Status is a point-in-time view of the controller.
type Status struct {
	Phase Phase

	// Active is the published generation id, zero if none.
	Active uint64

	// Generations lists every generation not yet torn down, by id.
	Generations []generation.Info
}

type published[G any] struct {
	handler    http.Handler
	generation *generation.Generation[G]
	guard      *generation.Guard[G]
}

// Controller owns the published generation and runs reloads.
type Controller[G any] struct {
	load     Loader[G]
	route    RouteFunc[G]
	teardown func(graph G) error
	arena    *generation.Arena[G]
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   clock.Clock

	phase   atomic.Int32
	current atomic.Pointer[published[G]]

	// mu guards closed and cancelLoad, and is held while a loaded
	// graph is published so Close cannot interleave with the swap. It
	// is never held across a load. Request dispatch never takes it.
	mu         sync.Mutex
	closed     bool
	cancelLoad context.CancelFunc
}

// New returns an idle controller with nothing published. Call
// Trigger once to publish the first generation.
func New[G any](cfg Config[G]) (*Controller[G], error) {
	if cfg.Load == nil {
		return nil, errors.New("reload: Load is required")
	}
	if cfg.Route == nil {
		return nil, errors.New("reload: Route is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	controller := &Controller[G]{
		load:     cfg.Load,
		route:    cfg.Route,
		teardown: cfg.Teardown,
		logger:   logger,
		metrics:  cfg.Metrics,
		tracer:   tracer,
		clock:    clk,
	}
	controller.arena = generation.NewArena(generation.Config[G]{
		Teardown: cfg.Teardown,
		OnTeardown: func(id uint64, err *generation.TeardownError) {
			controller.metrics.GenerationTornDown(err != nil)
		},
		Logger: logger,
		Clock:  clk,
	})
	return controller, nil
}

// Arena returns the arena the controller creates generations in.
func (c *Controller[G]) Arena() *generation.Arena[G] {
	return c.arena
}

// Phase returns the controller's current phase.
func (c *Controller[G]) Phase() Phase {
	return Phase(c.phase.Load())
}

// Trigger loads a new graph and publishes it. On success every
// request dispatched after Trigger returns is served by the new
// generation. On failure nothing changes and the loader's error is
// returned as-is. If Close runs while the graph is loading, the load's
// context is canceled, the graph is torn down unpublished and Trigger
// returns ErrClosed.
func (c *Controller[G]) Trigger(ctx context.Context) (Result, error) {
	if !c.phase.CompareAndSwap(int32(Idle), int32(Loading)) {
		if c.Phase() == closedPhase {
			return Result{}, ErrClosed
		}
		c.metrics.Reload(metrics.ReloadRejected, 0)
		return Result{}, ErrReloadInProgress
	}
	defer c.idle()

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, ErrClosed
	}
	c.cancelLoad = cancel
	c.mu.Unlock()

	start := c.clock.Now()
	loadCtx, span := c.tracer.Start(loadCtx, "reload")
	defer span.End()

	c.logger.InfoContext(loadCtx, "reload started")
	graph, err := c.load(loadCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLoad = nil
	if c.closed {
		span.SetStatus(codes.Error, "closed during load")
		if err == nil {
			c.discard(graph)
		}
		return Result{}, ErrClosed
	}
	if err != nil {
		c.metrics.Reload(metrics.ReloadFailed, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		c.logger.ErrorContext(loadCtx, "reload failed, keeping current generation",
			"error", err,
			"generation", c.activeID(),
		)
		return Result{}, err
	}

	c.phase.Store(int32(Publishing))
	result := c.publish(graph)
	c.phase.Store(int32(Draining))

	result.Duration = c.clock.Now().Sub(start)
	c.metrics.Reload(metrics.ReloadSucceeded, result.Duration)
	span.SetAttributes(
		attribute.Int64("continuwuity.generation", int64(result.Generation)),
		attribute.Int64("continuwuity.generation.previous", int64(result.Previous)),
	)
	c.logger.InfoContext(loadCtx, "reload complete",
		"generation", result.Generation,
		"previous", result.Previous,
		"duration", result.Duration,
	)
	return result, nil
}

// idle ends a cycle unless Close has taken over the phase.
func (c *Controller[G]) idle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.phase.Store(int32(Idle))
	}
}

// discard tears down a graph that finished loading after Close.
func (c *Controller[G]) discard(graph G) {
	c.logger.Info("controller closed during load, discarding graph")
	if c.teardown == nil {
		return
	}
	if err := c.teardown(graph); err != nil {
		c.logger.Error("tearing down unpublished graph", "error", err)
	}
}

// publish makes graph the active generation and retires the previous
// one. Called with mu held.
func (c *Controller[G]) publish(graph G) Result {
	handler, guard := c.route(c.arena, graph)
	next := &published[G]{
		handler:    handler,
		generation: guard.Generation(),
		guard:      guard,
	}
	c.metrics.GenerationCreated()

	previous := c.current.Swap(next)
	c.metrics.GenerationPublished(next.generation.ID())

	result := Result{Generation: next.generation.ID()}
	if previous != nil {
		result.Previous = previous.generation.ID()
		c.retire(previous)
	}
	return result
}

func (c *Controller[G]) retire(previous *published[G]) {
	previous.generation.Supersede()
	if err := previous.guard.Release(); err != nil {
		c.logger.Error("releasing router guard", "generation", previous.generation.ID(), "error", err)
	}
	c.logger.Info("generation superseded",
		"generation", previous.generation.ID(),
		"live", previous.generation.Live(),
	)
}

func (c *Controller[G]) activeID() uint64 {
	if current := c.current.Load(); current != nil {
		return current.generation.ID()
	}
	return 0
}

// Acquire returns a guard on the published generation. The caller
// must Release it.
func (c *Controller[G]) Acquire() (*generation.Guard[G], error) {
	for {
		current := c.current.Load()
		if current == nil {
			if c.Phase() == closedPhase {
				return nil, ErrClosed
			}
			return nil, ErrNotPublished
		}
		// A failed TryAcquire means current drained after being
		// superseded, so the pointer already holds its successor.
		if guard, ok := current.generation.TryAcquire(); ok {
			return guard, nil
		}
	}
}

// AcquireGeneration returns a guard on generation id, which need not
// be the published one. The caller must Release it.
func (c *Controller[G]) AcquireGeneration(id uint64) (*generation.Guard[G], error) {
	target, ok := c.arena.Get(id)
	if !ok {
		return nil, ErrDrained
	}
	guard, ok := target.TryAcquire()
	if !ok {
		return nil, ErrDrained
	}
	return guard, nil
}

// ServeHTTP dispatches r to the published generation's router.
func (c *Controller[G]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		current *published[G]
		guard   *generation.Guard[G]
	)
	for guard == nil {
		current = c.current.Load()
		if current == nil {
			apierror.Write(w, c.logger, apierror.New(http.StatusServiceUnavailable,
				apierror.CodeUnknown, "Server is not serving requests."))
			return
		}
		guard, _ = current.generation.TryAcquire()
	}
	defer func() {
		if err := guard.Release(); err != nil {
			c.logger.Error("releasing request guard", "generation", current.generation.ID(), "error", err)
		}
	}()
	current.handler.ServeHTTP(w, r)
}

// Status reports the phase, the active generation and every
// generation still alive. An idle controller with superseded
// generations still draining reports Draining.
func (c *Controller[G]) Status() Status {
	status := Status{
		Phase:       c.Phase(),
		Active:      c.activeID(),
		Generations: c.arena.Snapshot(),
	}
	if status.Phase == Idle {
		for _, info := range status.Generations {
			if info.Superseded {
				status.Phase = Draining
				break
			}
		}
	}
	return status
}

// Close retires the published generation and waits until every
// generation has been torn down or ctx is done. A load in progress is
// canceled rather than waited for. Subsequent Triggers fail with
// ErrClosed and requests are answered with 503.
func (c *Controller[G]) Close(ctx context.Context) error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.phase.Store(int32(closedPhase))
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	previous := c.current.Swap(nil)
	c.mu.Unlock()

	if !alreadyClosed && previous != nil {
		c.retire(previous)
	}
	return c.arena.Wait(ctx)
}
