// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package generation_test

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/continuwuity/continuwuity-sub001/lib/clock"
	"github.com/continuwuity/continuwuity-sub001/lib/generation"
	"github.com/continuwuity/continuwuity-sub001/lib/testutil"
)

type graph struct {
	name string
}

const teardownTimeout = 5 * time.Second

// countingArena returns an arena whose teardown hook counts calls per
// graph name.
func countingArena(t *testing.T) (*generation.Arena[*graph], *teardownLog) {
	t.Helper()
	log := &teardownLog{counts: make(map[string]int)}
	arena := generation.NewArena(generation.Config[*graph]{
		Teardown: func(g *graph) error {
			log.record(g.name)
			return nil
		},
	})
	return arena, log
}

type teardownLog struct {
	mu     sync.Mutex
	counts map[string]int
}

func (l *teardownLog) record(name string) {
	l.mu.Lock()
	l.counts[name]++
	l.mu.Unlock()
}

func (l *teardownLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[name]
}

func TestCreateStartsWithOneGuard(t *testing.T) {
	arena, _ := countingArena(t)
	state, guard := arena.Create(&graph{name: "g1"})

	if state.Graph.name != "g1" {
		t.Errorf("state graph = %q, want g1", state.Graph.name)
	}
	if state.Generation != guard.Generation() {
		t.Error("state and guard refer to different generations")
	}
	if live := state.Generation.Live(); live != 1 {
		t.Errorf("Live() = %d, want 1", live)
	}
	if state.Generation.Superseded() || state.Generation.TornDown() {
		t.Error("fresh generation is superseded or torn down")
	}
}

func TestIDsAreMonotonic(t *testing.T) {
	arena, _ := countingArena(t)
	var previous uint64
	for range 10 {
		state, _ := arena.Create(&graph{})
		if state.Generation.ID() <= previous {
			t.Fatalf("id %d not greater than previous %d", state.Generation.ID(), previous)
		}
		previous = state.Generation.ID()
	}
}

func TestCreatedAtUsesClock(t *testing.T) {
	epoch := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	arena := generation.NewArena(generation.Config[*graph]{Clock: clock.Fake(epoch)})
	state, _ := arena.Create(&graph{})
	if !state.Generation.CreatedAt().Equal(epoch) {
		t.Errorf("CreatedAt() = %v, want %v", state.Generation.CreatedAt(), epoch)
	}
}

// For any sequence of clones and releases, the live count never goes
// negative and is zero exactly when every issued guard is released.
func TestLiveCountProperty(t *testing.T) {
	for seed := range uint64(50) {
		random := rand.New(rand.NewPCG(seed, seed*7+1))
		arena, _ := countingArena(t)
		state, first := arena.Create(&graph{})
		outstanding := []*generation.Guard[*graph]{first}
		clones, releases := 0, 0

		for step := 0; step < 200 && len(outstanding) > 0; step++ {
			if random.IntN(2) == 0 {
				source := outstanding[random.IntN(len(outstanding))]
				outstanding = append(outstanding, source.Clone())
				clones++
			} else {
				index := random.IntN(len(outstanding))
				if err := outstanding[index].Release(); err != nil {
					t.Fatalf("seed %d: Release: %v", seed, err)
				}
				outstanding = append(outstanding[:index], outstanding[index+1:]...)
				releases++
			}

			live := state.Generation.Live()
			if live < 0 {
				t.Fatalf("seed %d step %d: live = %d", seed, step, live)
			}
			if (live == 0) != (releases == clones+1) {
				t.Fatalf("seed %d step %d: live = %d with %d clones and %d releases",
					seed, step, live, clones, releases)
			}
			if live != int64(len(outstanding)) {
				t.Fatalf("seed %d step %d: live = %d, outstanding = %d", seed, step, live, len(outstanding))
			}
		}

		for _, guard := range outstanding {
			if err := guard.Release(); err != nil {
				t.Fatalf("seed %d: final Release: %v", seed, err)
			}
		}
		if live := state.Generation.Live(); live != 0 {
			t.Fatalf("seed %d: live = %d after releasing everything", seed, live)
		}
	}
}

func TestDoubleReleaseRejected(t *testing.T) {
	arena, log := countingArena(t)
	state, guard := arena.Create(&graph{name: "g1"})
	clone := guard.Clone()

	if err := clone.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := clone.Release(); !errors.Is(err, generation.ErrGuardReleased) {
		t.Fatalf("second Release = %v, want ErrGuardReleased", err)
	}
	if live := state.Generation.Live(); live != 1 {
		t.Errorf("Live() = %d after rejected release, want 1", live)
	}
	if log.count("g1") != 0 {
		t.Error("teardown ran for an active generation")
	}
}

func TestActiveGenerationNeverTornDown(t *testing.T) {
	arena, log := countingArena(t)
	state, guard := arena.Create(&graph{name: "active"})

	if err := guard.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if state.Generation.Live() != 0 {
		t.Fatalf("Live() = %d, want 0", state.Generation.Live())
	}
	if state.Generation.TornDown() {
		t.Fatal("active generation torn down at live zero")
	}
	testutil.RequireOpen(t, state.Generation.Done(), "done channel of an active generation")
	if log.count("active") != 0 {
		t.Fatal("teardown hook ran for an active generation")
	}

	// Supersession of a drained generation tears it down immediately.
	state.Generation.Supersede()
	testutil.RequireClosed(t, state.Generation.Done(), teardownTimeout, "teardown after Supersede")
	if log.count("active") != 1 {
		t.Errorf("teardown count = %d, want 1", log.count("active"))
	}
}

func TestSupersedeIsIdempotent(t *testing.T) {
	arena, log := countingArena(t)
	state, guard := arena.Create(&graph{name: "g"})

	state.Generation.Supersede()
	state.Generation.Supersede()
	if state.Generation.TornDown() {
		t.Fatal("generation torn down while a guard is live")
	}

	if err := guard.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	testutil.RequireClosed(t, state.Generation.Done(), teardownTimeout, "teardown")
	state.Generation.Supersede()
	if log.count("g") != 1 {
		t.Errorf("teardown count = %d, want 1", log.count("g"))
	}
}

func TestTryAcquire(t *testing.T) {
	arena, log := countingArena(t)
	state, guard := arena.Create(&graph{name: "g"})

	acquired, ok := state.Generation.TryAcquire()
	if !ok {
		t.Fatal("TryAcquire failed on a live generation")
	}
	if state.Generation.Live() != 2 {
		t.Errorf("Live() = %d, want 2", state.Generation.Live())
	}

	state.Generation.Supersede()
	late, ok := state.Generation.TryAcquire()
	if !ok {
		t.Fatal("TryAcquire failed on a superseded generation that still has guards")
	}

	for _, g := range []*generation.Guard[*graph]{guard, acquired} {
		if err := g.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
	if state.Generation.TornDown() {
		t.Fatal("torn down while the late guard is held")
	}
	if err := late.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	testutil.RequireClosed(t, state.Generation.Done(), teardownTimeout, "teardown")
	if log.count("g") != 1 {
		t.Errorf("teardown count = %d, want 1", log.count("g"))
	}
}

func TestTryAcquireNeverRevives(t *testing.T) {
	arena, _ := countingArena(t)
	state, guard := arena.Create(&graph{})
	state.Generation.Supersede()
	if err := guard.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if acquired, ok := state.Generation.TryAcquire(); ok {
		_ = acquired.Release()
		t.Fatal("TryAcquire revived a drained generation")
	}
	if state.Generation.Live() != 0 {
		t.Errorf("Live() = %d, want 0", state.Generation.Live())
	}
	testutil.RequireClosed(t, state.Generation.Done(), teardownTimeout, "teardown")
}

func TestCloneOfReleasedGuardPanics(t *testing.T) {
	arena, _ := countingArena(t)
	_, guard := arena.Create(&graph{})
	keep := guard.Clone()
	defer keep.Release()

	if err := guard.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("Clone of a released guard did not panic")
		}
	}()
	guard.Clone()
}

// Teardown fires exactly once no matter how many goroutines race to
// release the last guards.
func TestTeardownExactlyOnceUnderRace(t *testing.T) {
	const goroutines = 64
	for iteration := range 50 {
		var calls atomic.Int64
		arena := generation.NewArena(generation.Config[*graph]{
			Teardown: func(*graph) error {
				calls.Add(1)
				return nil
			},
		})
		state, first := arena.Create(&graph{})
		guards := []*generation.Guard[*graph]{first}
		for range goroutines - 1 {
			guards = append(guards, first.Clone())
		}

		start := make(chan struct{})
		var waitGroup sync.WaitGroup
		for _, guard := range guards {
			waitGroup.Add(1)
			go func() {
				defer waitGroup.Done()
				<-start
				if err := guard.Release(); err != nil {
					t.Errorf("Release: %v", err)
				}
			}()
		}
		// Supersede concurrently with the releases.
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			<-start
			state.Generation.Supersede()
		}()

		close(start)
		waitGroup.Wait()
		testutil.RequireClosed(t, state.Generation.Done(), teardownTimeout, "iteration %d teardown", iteration)

		if got := calls.Load(); got != 1 {
			t.Fatalf("iteration %d: teardown ran %d times, want 1", iteration, got)
		}
		if arena.Len() != 0 {
			t.Fatalf("iteration %d: arena still holds %d generations", iteration, arena.Len())
		}
	}
}

// G1 has a router guard plus three request guards (live 4). After G2
// is published, G1 drains only when the router guard goes too.
func TestDrainScenario(t *testing.T) {
	arena, log := countingArena(t)
	g1State, g1Router := arena.Create(&graph{name: "g1"})
	requests := []*generation.Guard[*graph]{g1Router.Clone(), g1Router.Clone(), g1Router.Clone()}
	if live := g1State.Generation.Live(); live != 4 {
		t.Fatalf("G1 live = %d, want 4", live)
	}

	g2State, g2Router := arena.Create(&graph{name: "g2"})
	g1State.Generation.Supersede()

	for _, request := range requests {
		if err := request.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
	if live := g1State.Generation.Live(); live != 1 {
		t.Fatalf("G1 live = %d after request releases, want 1", live)
	}
	if g1State.Generation.TornDown() {
		t.Fatal("G1 torn down while its router guard is held")
	}

	if err := g1Router.Release(); err != nil {
		t.Fatalf("router Release: %v", err)
	}
	testutil.RequireClosed(t, g1State.Generation.Done(), teardownTimeout, "G1 teardown")
	if log.count("g1") != 1 {
		t.Fatalf("G1 teardown count = %d, want 1", log.count("g1"))
	}

	if err := requests[0].Release(); !errors.Is(err, generation.ErrGuardReleased) {
		t.Fatalf("second release = %v, want ErrGuardReleased", err)
	}
	if live := g1State.Generation.Live(); live != 0 {
		t.Errorf("G1 live = %d after rejected release, want 0", live)
	}
	if log.count("g1") != 1 {
		t.Errorf("G1 teardown count = %d after rejected release, want 1", log.count("g1"))
	}

	if _, ok := arena.Get(g1State.Generation.ID()); ok {
		t.Error("G1 still in the arena after teardown")
	}
	if _, ok := arena.Get(g2State.Generation.ID()); !ok {
		t.Error("G2 missing from the arena")
	}
	if g2State.Generation.TornDown() || log.count("g2") != 0 {
		t.Error("G2 torn down while active")
	}
	if err := g2Router.Release(); err != nil {
		t.Fatalf("G2 router Release: %v", err)
	}
	if g2State.Generation.TornDown() {
		t.Error("G2 torn down at live zero while never superseded")
	}
}
