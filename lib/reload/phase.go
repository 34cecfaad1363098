// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package reload

// Phase is a step in the reload cycle.
type Phase int32

const (
	Idle Phase = iota
	Loading
	Publishing
	Draining

	// closedPhase is terminal. Reported as "closed".
	closedPhase
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Publishing:
		return "publishing"
	case Draining:
		return "draining"
	case closedPhase:
		return "closed"
	default:
		return "unknown"
	}
}
