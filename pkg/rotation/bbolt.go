// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package rotation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var jobsBucket = []byte("rotation_jobs")

// BoltJobStore persists rotation jobs in a local bbolt database so
// interrupted rotations resume after a restart.
type BoltJobStore struct {
	db *bolt.DB
}

var _ JobStore = (*BoltJobStore)(nil)

// OpenBoltJobStore opens (or creates) the job database at path.
func OpenBoltJobStore(path string) (*BoltJobStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init job store: %w", err)
	}
	return &BoltJobStore{db: db}, nil
}

func (s *BoltJobStore) Create(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b.Get(job.ID[:]) != nil {
			return apierr.E(apierr.ErrAlreadyExists, "rotation job %s already exists", job.ID)
		}
		return b.Put(job.ID[:], raw)
	})
}

func (s *BoltJobStore) Update(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b.Get(job.ID[:]) == nil {
			return apierr.E(apierr.ErrNotFound, "rotation job %s not found", job.ID)
		}
		return b.Put(job.ID[:], raw)
	})
}

func (s *BoltJobStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(jobsBucket).Get(id[:])
		if raw == nil {
			return apierr.E(apierr.ErrNotFound, "rotation job %s not found", id)
		}
		return json.Unmarshal(raw, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltJobStore) ListActive(ctx context.Context) ([]Job, error) {
	var out []Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(_, raw []byte) error {
			var job Job
			if err := json.Unmarshal(raw, &job); err != nil {
				return err
			}
			if job.State.Active() {
				out = append(out, job)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltJobStore) Close() error {
	return s.db.Close()
}
