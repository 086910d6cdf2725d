// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package codec provides the binary Reader and Writer used for message payloads.
//
// All multi-byte values are encoded in network byte order (big-endian). A Writer appends to a growing byte slice,
// optionally backed by a buffer rented from an allocator, while a Reader consumes a byte slice and reports short
// reads as ErrShortBuffer. Types implementing Writable can be passed to the transport as message payloads.
package codec
