// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package crypto contains the pluggable cryptographic strategies of the transport.
//
// An Exchanger performs an ephemeral key agreement during the handshake and derives an Encryptor for all following
// connected packets. An Authenticator signs the random challenge of an incoming connection request with the host's
// private key, allowing the connecting side to verify the server against a known public key.
//
// The default implementations are an X25519 Exchanger, an XChaCha20-Poly1305 Encryptor and an Ed25519
// Authenticator.
package crypto
