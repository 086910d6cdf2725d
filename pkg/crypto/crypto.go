// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"crypto/rand"
	"errors"
	"io"
)

var (
	// ErrKeyLength is returned for a remote exchange key of an unexpected length.
	ErrKeyLength = errors.New("crypto: bad key length")

	// ErrDecrypt is returned if a packet cannot be decrypted or authenticated.
	ErrDecrypt = errors.New("crypto: decryption failed")

	// ErrNoPrivateKey is returned when signing without an imported private key.
	ErrNoPrivateKey = errors.New("crypto: no private key")
)

// Exchanger performs a single ephemeral key agreement.
type Exchanger interface {
	// KeyLength is the length of the public key exported by PublicKey.
	KeyLength() int

	// PublicKey to be sent to the remote side.
	PublicKey() []byte

	// DeriveEncryptor creates an Encryptor from the remote side's public key.
	DeriveEncryptor(remoteKey []byte) (Encryptor, error)
}

// Encryptor encrypts and decrypts packet payloads after a successful key exchange.
type Encryptor interface {
	// Overhead is the number of bytes Encrypt adds to its input.
	Overhead() int

	// Encrypt appends the encrypted plaintext to dst and returns the resulting slice.
	Encrypt(dst, plaintext []byte) ([]byte, error)

	// Decrypt appends the decrypted ciphertext to dst and returns the resulting slice.
	Decrypt(dst, ciphertext []byte) ([]byte, error)
}

// Authenticator signs challenges with a private key and verifies signatures against remote public keys.
type Authenticator interface {
	// SignatureLength is both the length of a signature and of the random challenge being signed.
	SignatureLength() int

	// ExportPublicKey as a printable string, to be configured as a remote public key elsewhere.
	ExportPublicKey() string

	// ExportPrivateKey as a printable string.
	ExportPrivateKey() string

	// ImportPrivateKey replaces the current key pair.
	ImportPrivateKey(privateKey string) error

	// Sign data with the private key.
	Sign(data []byte) ([]byte, error)

	// Verify a signature of some data against a remote public key, as exported by ExportPublicKey.
	Verify(data, signature []byte, remotePublicKey string) bool
}

// Random is the source of all random challenges and ephemeral keys.
var Random io.Reader = rand.Reader

// RandomBytes returns n bytes from Random.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(Random, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
