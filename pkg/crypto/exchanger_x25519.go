// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// X25519KeyLength is the public key length of an X25519Exchanger.
const X25519KeyLength = curve25519.PointSize

var hkdfInfo = []byte("rudp-go connected packets")

// X25519Exchanger is an ephemeral Curve25519 Diffie-Hellman Exchanger. The shared secret is stretched by HKDF-SHA256
// into an XChaCha20-Poly1305 key.
type X25519Exchanger struct {
	privateKey []byte
	publicKey  []byte
}

// NewX25519Exchanger creates a new key pair.
func NewX25519Exchanger() (*X25519Exchanger, error) {
	privateKey, err := RandomBytes(curve25519.ScalarSize)
	if err != nil {
		return nil, err
	}

	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	return &X25519Exchanger{
		privateKey: privateKey,
		publicKey:  publicKey,
	}, nil
}

func (x *X25519Exchanger) KeyLength() int {
	return X25519KeyLength
}

func (x *X25519Exchanger) PublicKey() []byte {
	return x.publicKey
}

func (x *X25519Exchanger) DeriveEncryptor(remoteKey []byte) (Encryptor, error) {
	if len(remoteKey) != X25519KeyLength {
		return nil, fmt.Errorf("%w: remote exchange key has %d bytes instead of %d",
			ErrKeyLength, len(remoteKey), X25519KeyLength)
	}

	secret, err := curve25519.X25519(x.privateKey, remoteKey)
	if err != nil {
		return nil, err
	}

	key := make([]byte, XChaChaKeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return nil, err
	}

	return NewXChaChaEncryptor(key)
}
