// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"

	bolt "go.etcd.io/bbolt"
)

var blobBucket = []byte("blobs")

// DiskStore persists ciphertext as files under a fan-out directory layout
// and keeps blob metadata (including reference counts) in a bbolt index.
// bbolt's single-writer transactions linearize refcount mutations.
type DiskStore struct {
	basePath string
	index    *bolt.DB
	metrics  *Metrics
}

// NewDiskStore opens (or creates) a disk-backed content store rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("path required for disk blob store")
	}
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}

	index, err := bolt.Open(filepath.Join(dir, "blobs.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open blob index: %w", err)
	}
	if err := index.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobBucket)
		return err
	}); err != nil {
		index.Close()
		return nil, fmt.Errorf("init blob index: %w", err)
	}

	return &DiskStore{basePath: dir, index: index, metrics: NewMetrics()}, nil
}

// objectPath fans out by the first two hash characters to keep directories
// small: objects/<scope>/<hh>/<hash>.vN
func (s *DiskStore) objectPath(key types.BlobKey) string {
	prefix := key.Hash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	name := fmt.Sprintf("%s.v%d", key.Hash, key.Version)
	return filepath.Join(s.basePath, "objects", key.Scope, prefix, name)
}

func (s *DiskStore) Put(ctx context.Context, key types.BlobKey, ciphertext []byte, meta Meta) (*types.Blob, error) {
	path := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dir: %w", err)
	}

	// Bytes first, durably, under a temp name. The rename into the
	// object path happens inside the index transaction below, so a
	// losing duplicate Put never touches the winner's bytes and a
	// crash leaves at most an orphan temp file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close blob: %w", err)
	}
	b := types.Blob{
		Key:           key,
		Nonce:         append([]byte(nil), meta.Nonce...),
		PlaintextSize: meta.PlaintextSize,
		RefCount:      1,
		CreatedAt:     time.Now(),
	}

	err = s.index.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(blobBucket)
		if bkt.Get([]byte(key.String())) != nil {
			return apierr.E(apierr.ErrAlreadyExists, "blob %s already exists", key)
		}
		raw, err := json.Marshal(&b)
		if err != nil {
			return fmt.Errorf("marshal blob meta: %w", err)
		}
		if err := bkt.Put([]byte(key.String()), raw); err != nil {
			return err
		}
		// Rename inside the transaction: a failure rolls the row back,
		// and a losing duplicate never reaches this point, so the live
		// object and its indexed nonce always agree.
		if err := os.Rename(tmpName, path); err != nil {
			return fmt.Errorf("rename blob: %w", err)
		}
		return nil
	})
	if err != nil {
		os.Remove(tmpName)
		return nil, err
	}

	s.metrics.Puts.Inc()
	s.metrics.BytesStored.Add(float64(len(ciphertext)))
	return &b, nil
}

func (s *DiskStore) AddReference(ctx context.Context, key types.BlobKey) (*types.Blob, error) {
	var b types.Blob
	err := s.index.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(blobBucket)
		raw := bkt.Get([]byte(key.String()))
		if raw == nil {
			return apierr.E(apierr.ErrNotFound, "blob %s not found", key)
		}
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("unmarshal blob meta: %w", err)
		}
		b.RefCount++
		updated, err := json.Marshal(&b)
		if err != nil {
			return fmt.Errorf("marshal blob meta: %w", err)
		}
		return bkt.Put([]byte(key.String()), updated)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DedupHits.Inc()
	return &b, nil
}

func (s *DiskStore) RemoveReference(ctx context.Context, key types.BlobKey) (int64, error) {
	var remaining int64
	var purge bool
	err := s.index.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(blobBucket)
		raw := bkt.Get([]byte(key.String()))
		if raw == nil {
			return apierr.E(apierr.ErrNotFound, "blob %s not found", key)
		}
		var b types.Blob
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("unmarshal blob meta: %w", err)
		}
		if b.RefCount <= 0 {
			return apierr.E(apierr.ErrNotFound, "blob %s already at zero references", key)
		}
		b.RefCount--
		remaining = b.RefCount
		if b.RefCount == 0 {
			purge = true
			return bkt.Delete([]byte(key.String()))
		}
		updated, err := json.Marshal(&b)
		if err != nil {
			return fmt.Errorf("marshal blob meta: %w", err)
		}
		return bkt.Put([]byte(key.String()), updated)
	})
	if err != nil {
		return 0, err
	}

	if purge {
		path := s.objectPath(key)
		if fi, err := os.Stat(path); err == nil {
			s.metrics.BytesStored.Sub(float64(fi.Size()))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			// Index row is gone; the orphan file is unreachable and
			// harmless. Log and move on.
			logger.Warn().Err(err).Str("blob", key.String()).Msg("failed to remove purged blob bytes")
		}
		s.metrics.Purges.Inc()
	}
	return remaining, nil
}

func (s *DiskStore) Get(ctx context.Context, key types.BlobKey) (*types.Blob, []byte, error) {
	var b types.Blob
	err := s.index.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(blobBucket).Get([]byte(key.String()))
		if raw == nil {
			return apierr.E(apierr.ErrNotFound, "blob %s not found", key)
		}
		return json.Unmarshal(raw, &b)
	})
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, apierr.E(apierr.ErrNotFound, "blob %s bytes missing", key)
		}
		return nil, nil, fmt.Errorf("read blob: %w", err)
	}
	return &b, data, nil
}

func (s *DiskStore) Exists(ctx context.Context, hash, scope string) (bool, error) {
	found := false
	err := s.index.View(func(tx *bolt.Tx) error {
		prefix := []byte(scope + "/" + hash + "/v")
		c := tx.Bucket(blobBucket).Cursor()
		k, _ := c.Seek(prefix)
		if k != nil && strings.HasPrefix(string(k), string(prefix)) {
			found = true
		}
		return nil
	})
	return found, err
}

func (s *DiskStore) Resolve(ctx context.Context, hash, scope string) (*types.Blob, error) {
	var best *types.Blob
	err := s.index.View(func(tx *bolt.Tx) error {
		prefix := scope + "/" + hash + "/v"
		c := tx.Bucket(blobBucket).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var b types.Blob
			if err := json.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("unmarshal blob meta: %w", err)
			}
			if best == nil || b.Key.Version > best.Key.Version {
				blob := b
				best = &blob
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, apierr.E(apierr.ErrNotFound, "no blob for hash %s in scope %s", hash, scope)
	}
	return best, nil
}

func (s *DiskStore) ListByScope(ctx context.Context, scope string, belowVersion uint32) ([]types.BlobKey, error) {
	var keys []types.BlobKey
	err := s.index.View(func(tx *bolt.Tx) error {
		prefix := scope + "/"
		c := tx.Bucket(blobBucket).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var b types.Blob
			if err := json.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("unmarshal blob meta: %w", err)
			}
			if b.Key.Version < belowVersion {
				keys = append(keys, b.Key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *DiskStore) Close() error {
	return s.index.Close()
}
