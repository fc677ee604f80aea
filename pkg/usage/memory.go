// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	accts map[string]Account
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory usage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accts: make(map[string]Account)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accts[userID]
	if !ok {
		return nil, nil
	}
	cp := acct
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accts[acct.UserID] = *acct
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, 0, len(s.accts))
	for _, acct := range s.accts {
		out = append(out, acct)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
