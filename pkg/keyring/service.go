// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
)

// Service implements Keyring over a RecordStore. Record mutations for a
// given user are serialized by a per-user lock; the wrapping key lives
// only in memory.
type Service struct {
	store       RecordStore
	wrappingKey []byte

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Keyring = (*Service)(nil)

// NewService creates a key manager. wrappingKey must be 32 bytes.
func NewService(store RecordStore, wrappingKey []byte) (*Service, error) {
	if len(wrappingKey) != dekSize {
		return nil, fmt.Errorf("wrapping key must be %d bytes, got %d", dekSize, len(wrappingKey))
	}
	return &Service{
		store:       store,
		wrappingKey: append([]byte(nil), wrappingKey...),
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *Service) SetInitialKey(ctx context.Context, userID, rawKey string) error {
	if rawKey == "" {
		return apierr.E(apierr.ErrInvalidArgument, "encryption key must not be empty")
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.store.Get(ctx, userID)
	if err != nil && !apierr.Is(err, apierr.ErrNotFound) {
		return err
	}
	if rec != nil && rec.CurrentVersion > 0 {
		return apierr.E(apierr.ErrAlreadyHasKey, "user %s already has a key; use rotation", userID)
	}

	kv, err := s.mintVersion(rawKey, 1)
	if err != nil {
		return err
	}

	rec = &UserKeyRecord{
		UserID:         userID,
		CurrentVersion: 1,
		Versions:       map[uint32]*KeyVersion{1: kv},
		RotationStatus: RotationIdle,
		UpdatedAt:      time.Now(),
	}
	return s.store.Put(ctx, rec)
}

func (s *Service) Rotate(ctx context.Context, userID string, oldRawKey *string, newRawKey string) (uint32, error) {
	if newRawKey == "" {
		return 0, apierr.E(apierr.ErrInvalidArgument, "new encryption key must not be empty")
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		if apierr.Is(err, apierr.ErrNotFound) {
			return 0, apierr.E(apierr.ErrNoExistingKey, "user %s has no key to rotate", userID)
		}
		return 0, err
	}
	if rec.RotationStatus == RotationInProgress {
		return 0, apierr.E(apierr.ErrRotationInProgress, "rotation already running for user %s", userID)
	}

	// Advisory proof of possession: only checked when the old key is
	// supplied. Session auth is the gate otherwise.
	if oldRawKey != nil {
		current := rec.Versions[rec.CurrentVersion]
		kek := deriveKEK(*oldRawKey, current.Salt)
		if _, err := unwrapKey(current.UserWrapped, kek); err != nil {
			return 0, apierr.E(apierr.ErrInvalidOldKey, "old encryption key does not match")
		}
	}

	next := rec.CurrentVersion + 1
	kv, err := s.mintVersion(newRawKey, next)
	if err != nil {
		return 0, err
	}

	rec.Versions[next] = kv
	rec.CurrentVersion = next
	rec.RotationStatus = RotationInProgress
	rec.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, rec); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Service) mintVersion(rawKey string, version uint32) (*KeyVersion, error) {
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	dek, err := newDEK()
	if err != nil {
		return nil, err
	}

	kek := deriveKEK(rawKey, salt)
	userWrapped, err := wrapKey(dek, kek)
	if err != nil {
		return nil, err
	}
	serverWrapped, err := wrapKey(dek, s.wrappingKey)
	if err != nil {
		return nil, err
	}

	return &KeyVersion{
		Version:       version,
		Salt:          salt,
		UserWrapped:   userWrapped,
		ServerWrapped: serverWrapped,
		CreatedAt:     time.Now(),
	}, nil
}

// dek unwraps the DEK for the given version using the server wrapping key.
func (s *Service) dek(ctx context.Context, userID string, version uint32) ([]byte, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		if apierr.Is(err, apierr.ErrNotFound) {
			return nil, apierr.E(apierr.ErrNoExistingKey, "user %s has no encryption key", userID)
		}
		return nil, err
	}
	kv, ok := rec.Versions[version]
	if !ok {
		return nil, apierr.E(apierr.ErrKeyVersionUnavailable, "key version %d unavailable for user %s", version, userID)
	}
	dek, err := unwrapKey(kv.ServerWrapped, s.wrappingKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrInternal, err, "unwrap DEK v%d for user %s", version, userID)
	}
	return dek, nil
}

func (s *Service) Encrypt(ctx context.Context, userID string, plaintext []byte) ([]byte, []byte, uint32, error) {
	version, err := s.CurrentVersion(ctx, userID)
	if err != nil {
		return nil, nil, 0, err
	}
	dek, err := s.dek(ctx, userID, version)
	if err != nil {
		return nil, nil, 0, err
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, 0, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, version, nil
}

func (s *Service) Decrypt(ctx context.Context, userID string, ciphertext, nonce []byte, version uint32) ([]byte, error) {
	dek, err := s.dek(ctx, userID, version)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrInternal, err, "decryption failed for user %s v%d", userID, version)
	}
	return plaintext, nil
}

func (s *Service) FinishRotation(ctx context.Context, userID string, failed bool) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if failed {
		rec.RotationStatus = RotationFailed
	} else {
		rec.RotationStatus = RotationIdle
	}
	rec.UpdatedAt = time.Now()
	return s.store.Put(ctx, rec)
}

func (s *Service) PurgeVersion(ctx context.Context, userID string, version uint32) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if version == rec.CurrentVersion {
		return apierr.E(apierr.ErrInvalidArgument, "refusing to purge current key version %d", version)
	}
	if _, ok := rec.Versions[version]; !ok {
		return apierr.E(apierr.ErrNotFound, "key version %d not retained", version)
	}
	delete(rec.Versions, version)
	rec.UpdatedAt = time.Now()
	return s.store.Put(ctx, rec)
}

func (s *Service) HasKey(ctx context.Context, userID string) (bool, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		if apierr.Is(err, apierr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.CurrentVersion > 0, nil
}

func (s *Service) CurrentVersion(ctx context.Context, userID string) (uint32, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		if apierr.Is(err, apierr.ErrNotFound) {
			return 0, apierr.E(apierr.ErrNoExistingKey, "user %s has no encryption key", userID)
		}
		return 0, err
	}
	return rec.CurrentVersion, nil
}
