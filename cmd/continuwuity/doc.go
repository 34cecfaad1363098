// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Continuwuity is the homeserver binary. It loads the configuration
// file, publishes the first service graph generation, and serves the
// client and federation HTTP API plus the local control socket.
//
// SIGHUP, or the control socket's reload action, rebuilds the service
// graph from the same configuration file and swaps it in without
// dropping connections. SIGINT and SIGTERM stop the listeners, wait
// for in-flight requests, and tear down every generation.
package main
