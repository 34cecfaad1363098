// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR encoding configuration shared by the
// homeserver's internal protocols.
//
// The homeserver speaks two serialization formats with a clear
// boundary:
//
//   - JSON for the Matrix client and federation APIs and for anything
//     a browser or remote server consumes.
//   - CBOR for the operator control socket between the server and
//     continuwuity-admin.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// The decoder maps untyped CBOR maps to map[string]any so decoded
// request bodies can be handed to the same code paths as JSON.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the control socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only travel over the control socket carry `cbor` struct
// tags. Types that are also rendered as JSON by the admin CLI carry
// `json` tags only; fxamacker/cbor falls back to them.
package codec
