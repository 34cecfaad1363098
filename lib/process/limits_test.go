// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package process

import "testing"

func TestRaiseFileLimit(t *testing.T) {
	first, err := RaiseFileLimit()
	if err != nil {
		// Sandboxes may forbid setrlimit even up to the hard limit.
		t.Skipf("RaiseFileLimit: %v", err)
	}
	if first.Current != first.Max {
		t.Errorf("Current = %d, want hard limit %d", first.Current, first.Max)
	}
	if first.Current < first.Previous {
		t.Errorf("limit lowered from %d to %d", first.Previous, first.Current)
	}

	second, err := RaiseFileLimit()
	if err != nil {
		t.Fatalf("second RaiseFileLimit: %v", err)
	}
	if second.Previous != second.Current {
		t.Errorf("second call changed the limit: %d -> %d", second.Previous, second.Current)
	}
}
