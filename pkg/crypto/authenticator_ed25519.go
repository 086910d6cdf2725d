// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"
)

// Ed25519Authenticator is an Authenticator based on Ed25519. Keys are exported as standard base64.
// A private key is exported as its 32 byte seed.
type Ed25519Authenticator struct {
	mutex      sync.RWMutex
	privateKey ed25519.PrivateKey
}

// NewEd25519Authenticator with a fresh key pair.
func NewEd25519Authenticator() (*Ed25519Authenticator, error) {
	_, privateKey, err := ed25519.GenerateKey(Random)
	if err != nil {
		return nil, err
	}
	return &Ed25519Authenticator{privateKey: privateKey}, nil
}

func (e *Ed25519Authenticator) SignatureLength() int {
	return ed25519.SignatureSize
}

func (e *Ed25519Authenticator) ExportPublicKey() string {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.privateKey == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(e.privateKey.Public().(ed25519.PublicKey))
}

func (e *Ed25519Authenticator) ExportPrivateKey() string {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.privateKey == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(e.privateKey.Seed())
}

func (e *Ed25519Authenticator) ImportPrivateKey(privateKey string) error {
	seed, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return fmt.Errorf("decoding private key failed: %w", err)
	} else if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("%w: private key has %d bytes instead of %d", ErrKeyLength, len(seed), ed25519.SeedSize)
	}

	e.mutex.Lock()
	e.privateKey = ed25519.NewKeyFromSeed(seed)
	e.mutex.Unlock()
	return nil
}

func (e *Ed25519Authenticator) Sign(data []byte) ([]byte, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.privateKey == nil {
		return nil, ErrNoPrivateKey
	}
	return ed25519.Sign(e.privateKey, data), nil
}

func (e *Ed25519Authenticator) Verify(data, signature []byte, remotePublicKey string) bool {
	publicKey, err := base64.StdEncoding.DecodeString(remotePublicKey)
	if err != nil || len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}
