// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package types holds the core records shared across the store:
// content blobs, logical files, and server configuration.
package types

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PlainKeyVersion is the key version recorded for blobs stored before the
// owner set an encryption key. Such blobs hold plaintext bytes and never
// dedup against encrypted blobs.
const PlainKeyVersion uint32 = 0

// BlobKey uniquely identifies a physical blob. Hashes are computed over
// plaintext, so identical content under different owners (and therefore
// different keys) yields distinct blobs: dedup is scoped per
// (hash, owner scope, key version).
type BlobKey struct {
	// Hash is the hex-encoded SHA-256 digest of the plaintext.
	Hash string

	// Scope is the owner's user ID.
	Scope string

	// Version is the key version the blob is encrypted under
	// (PlainKeyVersion for unencrypted blobs).
	Version uint32
}

// String renders the key in the canonical "scope/hash/vN" form used for
// map keys and on-disk paths.
func (k BlobKey) String() string {
	return k.Scope + "/" + k.Hash + "/v" + strconv.FormatUint(uint64(k.Version), 10)
}

// Blob is the metadata of one physical ciphertext unit.
type Blob struct {
	Key           BlobKey
	Nonce         []byte
	PlaintextSize int64
	RefCount      int64
	CreatedAt     time.Time
}

// Encrypted reports whether the blob holds ciphertext.
func (b *Blob) Encrypted() bool {
	return b.Key.Version != PlainKeyVersion
}

// LogicalFile is one user-visible file record. It does not own the bytes;
// it holds a counted reference into the content store.
type LogicalFile struct {
	ID               uuid.UUID `json:"id"`
	OwnerID          string    `json:"owner_id"`
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"`
	Size             int64     `json:"size"`
	ContentHash      string    `json:"file_hash"`
	KeyVersion       uint32    `json:"key_version"`
	Encrypted        bool      `json:"is_encrypted"`
	UploadedAt       time.Time `json:"uploaded_at"`
	LastAccessed     time.Time `json:"last_accessed"`
}

// BlobKey returns the content store key the file references.
func (f *LogicalFile) BlobKey() BlobKey {
	return BlobKey{Hash: f.ContentHash, Scope: f.OwnerID, Version: f.KeyVersion}
}
