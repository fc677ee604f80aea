// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob implements the content store: physical ciphertext units
// keyed by (plaintext hash, owner scope, key version) with atomic
// reference counting. Bytes are purged when the count reaches zero.
package blob

import (
	"context"
	"encoding/hex"

	"github.com/LeeDigitalWorks/vaultfs/pkg/types"

	"github.com/minio/sha256-simd"
)

// Meta carries the caller-supplied attributes for a new blob.
type Meta struct {
	Nonce         []byte
	PlaintextSize int64
}

// Store is the content store contract. Reference-count mutations on a
// given key are linearized: two concurrent Puts of the same key resolve
// to exactly one winner, the loser receives AlreadyExists and must retry
// as AddReference.
type Store interface {
	// Put persists a new blob with RefCount = 1. Fails with AlreadyExists
	// when a blob for the key is already live.
	Put(ctx context.Context, key types.BlobKey, ciphertext []byte, meta Meta) (*types.Blob, error)

	// AddReference atomically increments the reference count.
	// Fails with NotFound when no live blob exists for the key.
	AddReference(ctx context.Context, key types.BlobKey) (*types.Blob, error)

	// RemoveReference atomically decrements the reference count and
	// returns the new count. At zero the bytes are purged. Fails with
	// NotFound when the key is unknown or the count is already zero;
	// that indicates a logic bug in the caller.
	RemoveReference(ctx context.Context, key types.BlobKey) (int64, error)

	// Get returns the blob metadata and ciphertext.
	Get(ctx context.Context, key types.BlobKey) (*types.Blob, []byte, error)

	// Exists reports whether any live blob for (hash, scope) exists,
	// regardless of key version.
	Exists(ctx context.Context, hash, scope string) (bool, error)

	// Resolve returns the live blob for (hash, scope) at the highest key
	// version. Fails with NotFound when none exists.
	Resolve(ctx context.Context, hash, scope string) (*types.Blob, error)

	// ListByScope returns the keys of live blobs in scope whose key
	// version is below the given version. Used by rotation.
	ListByScope(ctx context.Context, scope string, belowVersion uint32) ([]types.BlobKey, error)

	// Close releases backend resources.
	Close() error
}

// ComputeHash returns the hex-encoded SHA-256 digest of plaintext.
// This is the deduplication key; it is always recomputed server-side.
func ComputeHash(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}
