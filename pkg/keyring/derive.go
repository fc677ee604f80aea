// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kekIterations = 210_000
	kekSaltSize   = 16
	dekSize       = 32 // AES-256
)

// deriveKEK stretches the user's raw key into a 32-byte key-encryption key.
func deriveKEK(rawKey string, salt []byte) []byte {
	return pbkdf2.Key([]byte(rawKey), salt, kekIterations, dekSize, sha256.New)
}

// wrapKey seals key material under kek with AES-256-GCM, nonce prepended.
func wrapKey(key, kek []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, key, nil), nil
}

// unwrapKey opens a nonce-prepended AES-256-GCM wrapped key.
func unwrapKey(wrapped, kek []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, fmt.Errorf("wrapped key too short")
	}
	nonce, sealed := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	key, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap failed: %w", err)
	}
	return key, nil
}

// newDEK generates a fresh random data encryption key.
func newDEK() ([]byte, error) {
	dek := make([]byte, dekSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("generate DEK: %w", err)
	}
	return dek, nil
}

// newSalt generates a fresh KEK salt.
func newSalt() ([]byte, error) {
	salt := make([]byte, kekSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
