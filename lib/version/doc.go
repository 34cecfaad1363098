// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information.
//
// The package-level variables are injected at build time via -ldflags -X:
//
//	go build -ldflags "-X github.com/continuwuity/continuwuity-sub001/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" / a -dev version in development builds
// and test runs. [Name] is the server software name reported by the
// federation version endpoint and by --version.
package version
