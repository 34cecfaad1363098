// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the administrative control socket.
//
// The protocol is CBOR over a Unix socket, one request per
// connection. A request is a CBOR map with an "action" key plus
// action-specific fields; the response is a [Response] envelope whose
// Data field carries the action's result. The socket file is created
// with mode 0600 in the configured directory, so access control is the
// filesystem's.
//
// [Register] installs the server's actions:
//
//   - reload: rebuild the service graph from the configuration file
//     and publish it. With "capture" set, the log records emitted
//     while reloading are returned as markdown and rendered HTML.
//   - status: reload phase, active generation, and every generation
//     still draining.
//   - features: compiled-in features by component.
//   - token-issue, token-revoke, token-list: registration token
//     management against the active generation.
//
// [Client] is the matching caller, used by continuwuity-admin.
package control
