// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package generation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/continuwuity/continuwuity-sub001/lib/clock"
)

// Config configures an Arena.
type Config[G any] struct {
	// Teardown releases a drained generation's resources. Optional.
	Teardown func(graph G) error

	// OnTeardown is called after every teardown with the generation id
	// and the hook's failure, or nil on success. Optional.
	OnTeardown func(id uint64, err *TeardownError)

	// Logger receives teardown messages. If nil, a no-op logger is used.
	Logger *slog.Logger

	// Clock stamps CreatedAt. Defaults to clock.Real().
	Clock clock.Clock
}

// Info is a point-in-time view of one generation.
type Info struct {
	ID         uint64
	Live       int64
	Superseded bool
	CreatedAt  time.Time
}

// Arena owns every generation that has not finished teardown.
type Arena[G any] struct {
	teardownFunc func(G) error
	onTeardown   func(uint64, *TeardownError)
	logger       *slog.Logger
	clock        clock.Clock

	lastID atomic.Uint64

	mu          sync.Mutex
	generations map[uint64]*Generation[G]
}

// NewArena returns an empty arena.
func NewArena[G any](cfg Config[G]) *Arena[G] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Arena[G]{
		teardownFunc: cfg.Teardown,
		onTeardown:   cfg.OnTeardown,
		logger:       logger,
		clock:        clk,
		generations:  make(map[uint64]*Generation[G]),
	}
}

// Create wraps graph in a new generation with a live count of one and
// returns its state and that first guard. Never fails.
func (a *Arena[G]) Create(graph G) (State[G], *Guard[G]) {
	generation := &Generation[G]{
		id:        a.lastID.Add(1),
		graph:     graph,
		createdAt: a.clock.Now(),
		arena:     a,
		done:      make(chan struct{}),
	}
	generation.live.Store(1)

	a.mu.Lock()
	a.generations[generation.id] = generation
	a.mu.Unlock()

	return generation.State(), &Guard[G]{generation: generation}
}

// Get returns the generation with id if it has not finished teardown.
func (a *Arena[G]) Get(id uint64) (*Generation[G], bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	generation, ok := a.generations[id]
	return generation, ok
}

// Len returns the number of generations not yet torn down.
func (a *Arena[G]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.generations)
}

// Snapshot describes every generation not yet torn down, ordered by id.
func (a *Arena[G]) Snapshot() []Info {
	a.mu.Lock()
	infos := make([]Info, 0, len(a.generations))
	for _, generation := range a.generations {
		infos = append(infos, Info{
			ID:         generation.id,
			Live:       generation.live.Load(),
			Superseded: generation.superseded.Load(),
			CreatedAt:  generation.createdAt,
		})
	}
	a.mu.Unlock()

	slices.SortFunc(infos, func(x, y Info) int {
		switch {
		case x.ID < y.ID:
			return -1
		case x.ID > y.ID:
			return 1
		}
		return 0
	})
	return infos
}

// Wait blocks until every generation present at the time of the call
// has finished teardown, or ctx is done.
func (a *Arena[G]) Wait(ctx context.Context) error {
	a.mu.Lock()
	pending := make([]*Generation[G], 0, len(a.generations))
	for _, generation := range a.generations {
		pending = append(pending, generation)
	}
	a.mu.Unlock()

	for _, generation := range pending {
		select {
		case <-generation.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for generation %d (live=%d) to drain: %w",
				generation.id, generation.live.Load(), ctx.Err())
		}
	}
	return nil
}

func (a *Arena[G]) teardown(generation *Generation[G]) {
	defer close(generation.done)

	a.logger.Info("tearing down generation", "generation", generation.id)
	var teardownErr *TeardownError
	if err := a.runHook(generation.graph); err != nil {
		teardownErr = &TeardownError{Generation: generation.id, Err: err}
		a.logger.Error("generation teardown failed", "generation", generation.id, "error", err)
	}

	a.mu.Lock()
	delete(a.generations, generation.id)
	a.mu.Unlock()

	if teardownErr == nil {
		a.logger.Info("generation torn down", "generation", generation.id)
	}
	if a.onTeardown != nil {
		a.onTeardown(generation.id, teardownErr)
	}
}

func (a *Arena[G]) runHook(graph G) (err error) {
	if a.teardownFunc == nil {
		return nil
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("teardown panicked: %v", recovered)
		}
	}()
	return a.teardownFunc(graph)
}
