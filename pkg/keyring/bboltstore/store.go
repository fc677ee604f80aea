// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package bboltstore persists user key records in a local bbolt database.
package bboltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring"

	bolt "go.etcd.io/bbolt"
)

var keysBucket = []byte("user_keys")

// Store implements keyring.RecordStore over bbolt.
type Store struct {
	db *bolt.DB
}

var _ keyring.RecordStore = (*Store)(nil)

// Open opens (or creates) the key record database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(keysBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init key store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, userID string) (*keyring.UserKeyRecord, error) {
	var rec keyring.UserKeyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(keysBucket).Get([]byte(userID))
		if raw == nil {
			return apierr.E(apierr.ErrNotFound, "no key record for user %s", userID)
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec *keyring.UserKeyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal key record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(keysBucket).Put([]byte(rec.UserID), raw)
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
