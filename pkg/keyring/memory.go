// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
)

// MemoryRecordStore is an in-memory RecordStore for tests.
type MemoryRecordStore struct {
	mu   sync.RWMutex
	recs map[string][]byte // JSON-encoded, to force the same copy semantics as durable stores
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{recs: make(map[string][]byte)}
}

func (s *MemoryRecordStore) Get(ctx context.Context, userID string) (*UserKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.recs[userID]
	if !ok {
		return nil, apierr.E(apierr.ErrNotFound, "no key record for user %s", userID)
	}
	var rec UserKeyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MemoryRecordStore) Put(ctx context.Context, rec *UserKeyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.UserID] = raw
	return nil
}

func (s *MemoryRecordStore) Close() error { return nil }
