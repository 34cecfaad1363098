// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the homeserver.
//
// Configuration is loaded from a single file specified by either the
// CONTINUWUITY_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search. The same path is read again on every reload, so an operator
// edits the file and then triggers a reload.
//
// Files ending in .json or .jsonc are accepted: comments and trailing
// commas are stripped and the result is decoded by the YAML decoder,
// since YAML is a superset of JSON. Every other extension is YAML.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${CONTINUWUITY_ROOT}, and ${VAR:-default} patterns are
// expanded.
//
// Every loaded Config carries a blake3 digest of the raw file bytes
// ([Config].Digest). A generation records the digest of the
// configuration it was built from, which is how an operator tells
// whether a reload actually picked up an edit.
//
// Key exports:
//
//   - [Config] -- master struct
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once
package config
