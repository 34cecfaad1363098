// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package generation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/continuwuity/continuwuity-sub001/lib/generation"
	"github.com/continuwuity/continuwuity-sub001/lib/testutil"
)

type teardownReport struct {
	id  uint64
	err *generation.TeardownError
}

func TestTeardownErrorReported(t *testing.T) {
	hookErr := errors.New("sqlite pool busy")
	reports := make(chan teardownReport, 1)
	arena := generation.NewArena(generation.Config[*graph]{
		Teardown: func(*graph) error { return hookErr },
		OnTeardown: func(id uint64, err *generation.TeardownError) {
			reports <- teardownReport{id: id, err: err}
		},
	})

	state, guard := arena.Create(&graph{})
	state.Generation.Supersede()
	if err := guard.Release(); err != nil {
		t.Fatalf("Release returned the teardown failure: %v", err)
	}

	report := testutil.RequireReceive(t, reports, teardownTimeout, "teardown report")
	if report.id != state.Generation.ID() {
		t.Errorf("report id = %d, want %d", report.id, state.Generation.ID())
	}
	if report.err == nil {
		t.Fatal("expected a TeardownError")
	}
	if !errors.Is(report.err, hookErr) {
		t.Errorf("TeardownError does not wrap the hook error: %v", report.err)
	}
	if report.err.Generation != state.Generation.ID() {
		t.Errorf("TeardownError.Generation = %d", report.err.Generation)
	}

	testutil.RequireClosed(t, state.Generation.Done(), teardownTimeout, "done after failed teardown")
	if arena.Len() != 0 {
		t.Error("generation with failed teardown still in the arena")
	}
}

func TestTeardownPanicBecomesError(t *testing.T) {
	reports := make(chan teardownReport, 1)
	arena := generation.NewArena(generation.Config[*graph]{
		Teardown: func(*graph) error { panic("double close") },
		OnTeardown: func(id uint64, err *generation.TeardownError) {
			reports <- teardownReport{id: id, err: err}
		},
	})

	state, guard := arena.Create(&graph{})
	state.Generation.Supersede()
	_ = guard.Release()

	report := testutil.RequireReceive(t, reports, teardownTimeout, "teardown report")
	if report.err == nil || !strings.Contains(report.err.Error(), "double close") {
		t.Fatalf("report = %+v, want panic converted to TeardownError", report)
	}
}

func TestTeardownSuccessReportsNil(t *testing.T) {
	reports := make(chan teardownReport, 1)
	arena := generation.NewArena(generation.Config[*graph]{
		OnTeardown: func(id uint64, err *generation.TeardownError) {
			reports <- teardownReport{id: id, err: err}
		},
	})

	state, guard := arena.Create(&graph{})
	state.Generation.Supersede()
	_ = guard.Release()

	if report := testutil.RequireReceive(t, reports, teardownTimeout, "teardown report"); report.err != nil {
		t.Errorf("successful teardown reported %v", report.err)
	}
}

func TestSnapshot(t *testing.T) {
	arena, _ := countingArena(t)
	first, firstGuard := arena.Create(&graph{name: "one"})
	extra := firstGuard.Clone()
	second, _ := arena.Create(&graph{name: "two"})
	first.Generation.Supersede()

	infos := arena.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("Snapshot() returned %d entries, want 2", len(infos))
	}
	if infos[0].ID != first.Generation.ID() || infos[1].ID != second.Generation.ID() {
		t.Errorf("Snapshot() not ordered by id: %+v", infos)
	}
	if infos[0].Live != 2 || !infos[0].Superseded {
		t.Errorf("first entry = %+v, want live 2 superseded", infos[0])
	}
	if infos[1].Live != 1 || infos[1].Superseded {
		t.Errorf("second entry = %+v, want live 1 active", infos[1])
	}

	_ = extra.Release()
	_ = firstGuard.Release()
	testutil.RequireClosed(t, first.Generation.Done(), teardownTimeout, "first teardown")
	if infos := arena.Snapshot(); len(infos) != 1 || infos[0].ID != second.Generation.ID() {
		t.Errorf("Snapshot() after teardown = %+v", infos)
	}
}

func TestWait(t *testing.T) {
	arena, _ := countingArena(t)
	state, guard := arena.Create(&graph{})
	state.Generation.Supersede()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := arena.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait with a held guard = %v, want DeadlineExceeded", err)
	}

	_ = guard.Release()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer waitCancel()
	if err := arena.Wait(waitCtx); err != nil {
		t.Fatalf("Wait after release: %v", err)
	}
	if arena.Len() != 0 {
		t.Errorf("Len() = %d after Wait, want 0", arena.Len())
	}
}
