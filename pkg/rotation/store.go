// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package rotation

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"

	"github.com/google/uuid"
)

// JobStore defines the interface for rotation job persistence.
type JobStore interface {
	// Create adds a job.
	Create(ctx context.Context, job *Job) error

	// Update replaces a job.
	Update(ctx context.Context, job *Job) error

	// Get retrieves a job by ID. Fails with NotFound when absent.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// ListActive returns jobs in pending or running state.
	ListActive(ctx context.Context) ([]Job, error)

	Close() error
}

// MemoryJobStore is an in-memory JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID][]byte // JSON-encoded to force copy semantics
}

var _ JobStore = (*MemoryJobStore)(nil)

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID][]byte)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return apierr.E(apierr.ErrAlreadyExists, "rotation job %s already exists", job.ID)
	}
	return s.put(job)
}

func (s *MemoryJobStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return apierr.E(apierr.ErrNotFound, "rotation job %s not found", job.ID)
	}
	return s.put(job)
}

func (s *MemoryJobStore) put(job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	s.jobs[job.ID] = raw
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.jobs[id]
	if !ok {
		return nil, apierr.E(apierr.ErrNotFound, "rotation job %s not found", id)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MemoryJobStore) ListActive(ctx context.Context) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Job
	for _, raw := range s.jobs {
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, err
		}
		if job.State.Active() {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *MemoryJobStore) Close() error { return nil }
