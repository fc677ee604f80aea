// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"
)

// MemoryStore is an in-memory content store for tests and local
// development. A single mutex linearizes reference-count mutations.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]*memEntry // key: BlobKey.String()
	metrics *Metrics
}

type memEntry struct {
	meta types.Blob
	data []byte
}

// NewMemoryStore creates an empty in-memory content store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:   make(map[string]*memEntry),
		metrics: NewMetrics(),
	}
}

func (s *MemoryStore) Put(ctx context.Context, key types.BlobKey, ciphertext []byte, meta Meta) (*types.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key.String()]; ok {
		return nil, apierr.E(apierr.ErrAlreadyExists, "blob %s already exists", key)
	}

	data := make([]byte, len(ciphertext))
	copy(data, ciphertext)

	entry := &memEntry{
		meta: types.Blob{
			Key:           key,
			Nonce:         append([]byte(nil), meta.Nonce...),
			PlaintextSize: meta.PlaintextSize,
			RefCount:      1,
			CreatedAt:     time.Now(),
		},
		data: data,
	}
	s.blobs[key.String()] = entry
	s.metrics.Puts.Inc()
	s.metrics.BytesStored.Add(float64(len(data)))

	m := entry.meta
	return &m, nil
}

func (s *MemoryStore) AddReference(ctx context.Context, key types.BlobKey) (*types.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.blobs[key.String()]
	if !ok {
		return nil, apierr.E(apierr.ErrNotFound, "blob %s not found", key)
	}
	entry.meta.RefCount++
	s.metrics.DedupHits.Inc()

	m := entry.meta
	return &m, nil
}

func (s *MemoryStore) RemoveReference(ctx context.Context, key types.BlobKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.blobs[key.String()]
	if !ok {
		return 0, apierr.E(apierr.ErrNotFound, "blob %s not found", key)
	}
	if entry.meta.RefCount <= 0 {
		return 0, apierr.E(apierr.ErrNotFound, "blob %s already at zero references", key)
	}

	entry.meta.RefCount--
	if entry.meta.RefCount == 0 {
		delete(s.blobs, key.String())
		s.metrics.Purges.Inc()
		s.metrics.BytesStored.Sub(float64(len(entry.data)))
		return 0, nil
	}
	return entry.meta.RefCount, nil
}

func (s *MemoryStore) Get(ctx context.Context, key types.BlobKey) (*types.Blob, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.blobs[key.String()]
	if !ok {
		return nil, nil, apierr.E(apierr.ErrNotFound, "blob %s not found", key)
	}
	m := entry.meta
	data := make([]byte, len(entry.data))
	copy(data, entry.data)
	return &m, data, nil
}

func (s *MemoryStore) Exists(ctx context.Context, hash, scope string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.blobs {
		if entry.meta.Key.Hash == hash && entry.meta.Key.Scope == scope {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, hash, scope string) (*types.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *memEntry
	for _, entry := range s.blobs {
		if entry.meta.Key.Hash != hash || entry.meta.Key.Scope != scope {
			continue
		}
		if best == nil || entry.meta.Key.Version > best.meta.Key.Version {
			best = entry
		}
	}
	if best == nil {
		return nil, apierr.E(apierr.ErrNotFound, "no blob for hash %s in scope %s", hash, scope)
	}
	m := best.meta
	return &m, nil
}

func (s *MemoryStore) ListByScope(ctx context.Context, scope string, belowVersion uint32) ([]types.BlobKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []types.BlobKey
	for _, entry := range s.blobs {
		if entry.meta.Key.Scope == scope && entry.meta.Key.Version < belowVersion {
			keys = append(keys, entry.meta.Key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Close() error { return nil }
