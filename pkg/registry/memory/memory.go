// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory registry store for tests and
// single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"

	"github.com/google/uuid"
)

// Store is an in-memory registry.Store.
type Store struct {
	mu    sync.RWMutex
	files map[uuid.UUID]types.LogicalFile
}

var _ registry.Store = (*Store)(nil)

// NewStore creates an empty in-memory file store.
func NewStore() *Store {
	return &Store{files: make(map[uuid.UUID]types.LogicalFile)}
}

func (s *Store) Insert(ctx context.Context, f *types.LogicalFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[f.ID]; ok {
		return apierr.E(apierr.ErrAlreadyExists, "file %s already exists", f.ID)
	}
	s.files[f.ID] = *f
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*types.LogicalFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return nil, apierr.E(apierr.ErrNotFound, "file %s not found", id)
	}
	cp := f
	return &cp, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return apierr.E(apierr.ErrNotFound, "file %s not found", id)
	}
	delete(s.files, id)
	return nil
}

func (s *Store) List(ctx context.Context, ownerID string, fl registry.Filters) ([]types.LogicalFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.LogicalFile
	for _, f := range s.files {
		if f.OwnerID != ownerID {
			continue
		}
		if !fl.Matches(&f) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

func (s *Store) CountByBlob(ctx context.Context, key types.BlobKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, f := range s.files {
		if f.BlobKey() == key {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListBelowVersion(ctx context.Context, ownerID string, version uint32) ([]types.LogicalFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.LogicalFile
	for _, f := range s.files {
		if f.OwnerID == ownerID && f.KeyVersion < version {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out, nil
}

func (s *Store) SetKeyVersion(ctx context.Context, id uuid.UUID, version uint32, encrypted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return apierr.E(apierr.ErrNotFound, "file %s not found", id)
	}
	f.KeyVersion = version
	f.Encrypted = encrypted
	s.files[id] = f
	return nil
}

func (s *Store) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return apierr.E(apierr.ErrNotFound, "file %s not found", id)
	}
	f.LastAccessed = at
	s.files[id] = f
	return nil
}

func (s *Store) TotalSizeByUser(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for _, f := range s.files {
		totals[f.OwnerID] += f.Size
	}
	return totals, nil
}

func (s *Store) Close() error { return nil }
