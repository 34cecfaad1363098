// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind each
// service graph's storage.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with WAL journal
// mode, NORMAL synchronous, a busy timeout, and a per-connection
// schema script. Callers [Pool.Take] a connection, perform work, and
// [Pool.Put] it back, or use [Pool.With] for the common case.
// Connections are not safe for concurrent use.
//
// Every generation opens its own pool on the same database file. While
// a reload drains, two pools share the file; WAL mode and the busy
// timeout make that safe. sqlitex.Pool opens connections lazily, so
// [Pool.Ping] exists to surface an unusable database at build time
// rather than on the first request.
//
// Pragmas applied to every connection:
//
//   - journal_mode=WAL
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - temp_store=MEMORY
package sqlitepool
