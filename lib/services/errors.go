// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package services

import "fmt"

// ConfigError reports configuration that cannot produce a service
// graph: failed validation or an unreadable referenced file.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// StorageOpenError reports a backing resource (database, cache) that
// could not be acquired.
type StorageOpenError struct {
	// Resource names what failed: "database" or "cache".
	Resource string
	Err      error
}

func (e *StorageOpenError) Error() string {
	return fmt.Sprintf("opening %s: %v", e.Resource, e.Err)
}

func (e *StorageOpenError) Unwrap() error {
	return e.Err
}
