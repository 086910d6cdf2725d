// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"crypto/cipher"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// XChaChaKeyLength is the key length of an XChaChaEncryptor.
const XChaChaKeyLength = chacha20poly1305.KeySize

// XChaChaEncryptor is an Encryptor based on XChaCha20-Poly1305. Each ciphertext is prefixed with its random nonce.
type XChaChaEncryptor struct {
	aead cipher.AEAD
}

// NewXChaChaEncryptor for a 32 byte key.
func NewXChaChaEncryptor(key []byte) (*XChaChaEncryptor, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &XChaChaEncryptor{aead: aead}, nil
}

func (x *XChaChaEncryptor) Overhead() int {
	return x.aead.NonceSize() + x.aead.Overhead()
}

func (x *XChaChaEncryptor) Encrypt(dst, plaintext []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(Random, nonce[:]); err != nil {
		return nil, err
	}

	dst = append(dst, nonce[:]...)
	return x.aead.Seal(dst, nonce[:], plaintext, nil), nil
}

func (x *XChaChaEncryptor) Decrypt(dst, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < x.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext of %d bytes is shorter than its overhead", ErrDecrypt, len(ciphertext))
	}

	nonceSize := x.aead.NonceSize()
	out, err := x.aead.Open(dst, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return out, nil
}
