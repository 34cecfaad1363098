// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FileLimit describes the RLIMIT_NOFILE values before and after
// RaiseFileLimit.
type FileLimit struct {
	Previous uint64
	Current  uint64
	Max      uint64
}

// RaiseFileLimit raises the soft open-file limit to the hard limit.
// Returns the resulting limits. Lowering never happens: when the soft
// limit already equals the hard limit the call is a no-op.
func RaiseFileLimit() (FileLimit, error) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return FileLimit{}, fmt.Errorf("reading RLIMIT_NOFILE: %w", err)
	}
	result := FileLimit{Previous: limit.Cur, Current: limit.Cur, Max: limit.Max}
	if limit.Cur >= limit.Max {
		return result, nil
	}

	limit.Cur = limit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return result, fmt.Errorf("raising RLIMIT_NOFILE to %d: %w", limit.Max, err)
	}
	result.Current = limit.Cur
	return result, nil
}
