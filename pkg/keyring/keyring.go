// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyring manages per-user data encryption keys. Each user holds a
// raw key that never touches disk; the server stores one random 32-byte DEK
// per key version, wrapped both under a KEK derived from the user's raw key
// and under the server wrapping key. Losing the record is permanent data
// loss for that user's files; there is no escrow.
package keyring

import (
	"context"
	"time"
)

// Rotation status of a user's key record.
const (
	RotationIdle       = "idle"
	RotationInProgress = "in-progress"
	RotationFailed     = "failed"
)

// KeyVersion is one generation of a user's data encryption key.
type KeyVersion struct {
	Version uint32 `json:"version"`

	// Salt for deriving the user KEK from the raw key.
	Salt []byte `json:"salt"`

	// UserWrapped is the DEK sealed under the user-derived KEK.
	// Used only to verify possession of the raw key.
	UserWrapped []byte `json:"user_wrapped"`

	// ServerWrapped is the DEK sealed under the server wrapping key.
	// Lets the server encrypt/decrypt without the raw key in hand,
	// which rotation of not-yet-migrated files depends on.
	ServerWrapped []byte `json:"server_wrapped"`

	CreatedAt time.Time `json:"created_at"`
}

// UserKeyRecord is the stored key state for one user. Exactly one version
// is current; older versions stay retrievable until explicitly purged.
type UserKeyRecord struct {
	UserID         string                 `json:"user_id"`
	CurrentVersion uint32                 `json:"current_version"`
	Versions       map[uint32]*KeyVersion `json:"versions"`
	RotationStatus string                 `json:"rotation_status"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// RecordStore persists key records. Implementations must treat Put as a
// full-record replace.
type RecordStore interface {
	// Get returns the record for userID, or a NotFound-tagged error.
	Get(ctx context.Context, userID string) (*UserKeyRecord, error)

	// Put stores the record.
	Put(ctx context.Context, rec *UserKeyRecord) error

	Close() error
}

// Keyring is the key manager contract.
type Keyring interface {
	// SetInitialKey derives and stores version 1 for the user.
	// Fails with AlreadyHasKey once a current version exists.
	SetInitialKey(ctx context.Context, userID, rawKey string) error

	// Rotate allocates the next key version and marks rotation
	// in-progress. oldRawKey is advisory: verified when present
	// (InvalidOldKey on mismatch), skipped when nil, in which case
	// session identity is the gate. Fails with NoExistingKey before
	// SetInitialKey and RotationInProgress while a rotation is running.
	Rotate(ctx context.Context, userID string, oldRawKey *string, newRawKey string) (newVersion uint32, err error)

	// Encrypt seals plaintext under the user's current DEK with a fresh
	// per-blob nonce. Returns ciphertext, nonce, and the key version used.
	Encrypt(ctx context.Context, userID string, plaintext []byte) (ciphertext, nonce []byte, version uint32, err error)

	// Decrypt opens ciphertext under any retained version.
	// Fails with KeyVersionUnavailable when the version has been purged.
	Decrypt(ctx context.Context, userID string, ciphertext, nonce []byte, version uint32) ([]byte, error)

	// FinishRotation flips rotation status back to idle (or failed).
	FinishRotation(ctx context.Context, userID string, failed bool) error

	// PurgeVersion drops a retained historical version. Administrative
	// action only; refuses the current version.
	PurgeVersion(ctx context.Context, userID string, version uint32) error

	// HasKey reports whether the user has set an encryption key.
	HasKey(ctx context.Context, userID string) (bool, error)

	// CurrentVersion returns the active key version.
	// Fails with NoExistingKey when no key is set.
	CurrentVersion(ctx context.Context, userID string) (uint32, error)
}
