// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry manages logical file records and orchestrates the
// content store, key manager, quota tracker, and access history behind
// the user-facing file operations.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/types"

	"github.com/google/uuid"
)

// Filters narrows List results. Zero values mean "no constraint".
type Filters struct {
	// Filename matches case-insensitively on a substring of the
	// original filename.
	Filename string

	// FileType matches case-insensitively on a substring of the
	// declared content type.
	FileType string

	// MinSize and MaxSize bound the logical size in bytes, inclusive.
	MinSize *int64
	MaxSize *int64

	// DateFrom and DateTo bound the upload time. DateTo is inclusive
	// of the whole day it names.
	DateFrom *time.Time
	DateTo   *time.Time
}

// Matches reports whether f passes every set filter.
func (fl Filters) Matches(f *types.LogicalFile) bool {
	if fl.Filename != "" && !containsFold(f.OriginalFilename, fl.Filename) {
		return false
	}
	if fl.FileType != "" && !containsFold(f.FileType, fl.FileType) {
		return false
	}
	if fl.MinSize != nil && f.Size < *fl.MinSize {
		return false
	}
	if fl.MaxSize != nil && f.Size > *fl.MaxSize {
		return false
	}
	if fl.DateFrom != nil && f.UploadedAt.Before(*fl.DateFrom) {
		return false
	}
	if fl.DateTo != nil && !f.UploadedAt.Before(fl.DateTo.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// Store defines the interface for logical file persistence.
type Store interface {
	// Insert adds a file record.
	Insert(ctx context.Context, f *types.LogicalFile) error

	// Get retrieves a file by ID. Fails with NotFound when absent.
	Get(ctx context.Context, id uuid.UUID) (*types.LogicalFile, error)

	// Delete removes a file record. Fails with NotFound when absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns the owner's files passing the filters, newest first.
	List(ctx context.Context, ownerID string, fl Filters) ([]types.LogicalFile, error)

	// CountByBlob returns how many records reference the given blob key.
	CountByBlob(ctx context.Context, key types.BlobKey) (int64, error)

	// ListBelowVersion returns the owner's files whose key version is
	// below the given version, oldest first. Used by rotation.
	ListBelowVersion(ctx context.Context, ownerID string, version uint32) ([]types.LogicalFile, error)

	// SetKeyVersion repoints a file at a re-encrypted blob.
	SetKeyVersion(ctx context.Context, id uuid.UUID, version uint32, encrypted bool) error

	// Touch updates the last-accessed time.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error

	// TotalSizeByUser sums logical sizes per owner across all files.
	TotalSizeByUser(ctx context.Context) (map[string]int64, error)

	Close() error
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
