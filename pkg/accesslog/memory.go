// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package accesslog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]Entry // keyed by file ID, append order
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory access log store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID][]Entry)}
}

func (s *MemoryStore) Append(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.FileID] = append(s.entries[e.FileID], *e)
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, fileID uuid.UUID, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[fileID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
