// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/accesslog"
	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/blob"
	vfctx "github.com/LeeDigitalWorks/vaultfs/pkg/context"
	"github.com/LeeDigitalWorks/vaultfs/pkg/events"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring"
	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"
	"github.com/LeeDigitalWorks/vaultfs/pkg/usage"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Deps are the collaborators behind the file operations.
type Deps struct {
	Files        Store
	Blobs        blob.Store
	Keys         keyring.Keyring
	Quota        *usage.Tracker
	Access       *accesslog.Recorder
	Publisher    events.Publisher
	MaxFileBytes int64
}

// Service implements the user-facing file operations: upload with
// deduplication, referencing, listing, download, and deletion.
type Service struct {
	files        Store
	blobs        blob.Store
	keys         keyring.Keyring
	quota        *usage.Tracker
	access       *accesslog.Recorder
	pub          events.Publisher
	maxFileBytes int64
}

// NewService creates a file registry service.
func NewService(d Deps) *Service {
	if d.MaxFileBytes <= 0 {
		d.MaxFileBytes = types.DefaultMaxFileBytes
	}
	return &Service{
		files:        d.Files,
		blobs:        d.Blobs,
		keys:         d.Keys,
		quota:        d.Quota,
		access:       d.Access,
		pub:          d.Publisher,
		maxFileBytes: d.MaxFileBytes,
	}
}

func callerInfo(ctx context.Context) (string, string) {
	c, _ := vfctx.CallerFrom(ctx)
	return c.RemoteIP, c.UserAgent
}

// CheckHash reports whether content with the given hash is already
// stored for the user, at any key version.
func (s *Service) CheckHash(ctx context.Context, ownerID, hash string) (bool, error) {
	return s.blobs.Exists(ctx, hash, ownerID)
}

// Upload stores content as a new logical file. Identical content the
// user already stores is deduplicated against the existing blob; the
// user is still charged the full logical size.
func (s *Service) Upload(ctx context.Context, ownerID, filename, fileType string, content []byte, claimedHash string) (*types.LogicalFile, error) {
	if int64(len(content)) > s.maxFileBytes {
		return nil, apierr.E(apierr.ErrEntityTooLarge, "file exceeds the %s limit",
			humanize.IBytes(uint64(s.maxFileBytes)))
	}

	hash := blob.ComputeHash(content)
	if claimedHash != "" && claimedHash != hash {
		return nil, apierr.E(apierr.ErrInvalidArgument, "file_hash does not match uploaded content")
	}

	if err := s.quota.Charge(ctx, ownerID, int64(len(content))); err != nil {
		return nil, err
	}

	b, err := s.ensureBlob(ctx, ownerID, hash, content)
	if err != nil {
		s.refund(ctx, ownerID, int64(len(content)))
		return nil, err
	}

	f := &types.LogicalFile{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		OriginalFilename: filename,
		FileType:         fileType,
		Size:             int64(len(content)),
		ContentHash:      hash,
		KeyVersion:       b.Key.Version,
		Encrypted:        b.Encrypted(),
		UploadedAt:       time.Now(),
		LastAccessed:     time.Now(),
	}
	if err := s.files.Insert(ctx, f); err != nil {
		s.unref(ctx, b.Key)
		s.refund(ctx, ownerID, f.Size)
		return nil, err
	}

	ip, ua := callerInfo(ctx)
	s.access.Record(ctx, f.ID, ownerID, accesslog.ActionUpload, ip, ua)
	events.Emit(ctx, s.pub, events.FileUploaded, ownerID, f.ID, f.OriginalFilename, f.Size)
	return f, nil
}

// ensureBlob resolves or creates the blob for content, holding one new
// reference on return. Dedup matches only blobs at the user's current
// key version; blobs left on older versions after a rotation are
// converged by the rotation worker, never by new uploads.
func (s *Service) ensureBlob(ctx context.Context, ownerID, hash string, content []byte) (*types.Blob, error) {
	version, err := s.currentVersion(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	key := types.BlobKey{Hash: hash, Scope: ownerID, Version: version}
	if b, err := s.blobs.AddReference(ctx, key); err == nil {
		return b, nil
	} else if !apierr.Is(err, apierr.ErrNotFound) {
		return nil, err
	}

	payload := content
	meta := blob.Meta{PlaintextSize: int64(len(content))}
	if version != types.PlainKeyVersion {
		ciphertext, nonce, v, err := s.keys.Encrypt(ctx, ownerID, content)
		if err != nil {
			return nil, err
		}
		payload, meta.Nonce = ciphertext, nonce
		key.Version = v
	}

	b, err := s.blobs.Put(ctx, key, payload, meta)
	if apierr.Is(err, apierr.ErrAlreadyExists) {
		// Lost a race with an identical concurrent upload.
		return s.blobs.AddReference(ctx, key)
	}
	return b, err
}

// currentVersion is the key version new blobs for the user are stored
// under: the active key version, or PlainKeyVersion before key setup.
func (s *Service) currentVersion(ctx context.Context, ownerID string) (uint32, error) {
	v, err := s.keys.CurrentVersion(ctx, ownerID)
	if apierr.Is(err, apierr.ErrNoExistingKey) {
		return types.PlainKeyVersion, nil
	}
	return v, err
}

// ReferenceExisting creates a logical file for content the user already
// stores, without re-uploading the bytes.
func (s *Service) ReferenceExisting(ctx context.Context, ownerID, hash, filename, fileType string) (*types.LogicalFile, error) {
	version, err := s.currentVersion(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	b, err := s.blobs.Resolve(ctx, hash, ownerID)
	if err != nil {
		return nil, err
	}
	if b.Key.Version != version {
		// The content survives only under an older key version. The
		// client has to re-upload; rotation converges the old blob.
		return nil, apierr.E(apierr.ErrNotFound, "no blob for hash %s at the current key version", hash)
	}

	if err := s.quota.Charge(ctx, ownerID, b.PlaintextSize); err != nil {
		return nil, err
	}
	if _, err := s.blobs.AddReference(ctx, b.Key); err != nil {
		s.refund(ctx, ownerID, b.PlaintextSize)
		return nil, err
	}

	f := &types.LogicalFile{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		OriginalFilename: filename,
		FileType:         fileType,
		Size:             b.PlaintextSize,
		ContentHash:      hash,
		KeyVersion:       b.Key.Version,
		Encrypted:        b.Encrypted(),
		UploadedAt:       time.Now(),
		LastAccessed:     time.Now(),
	}
	if err := s.files.Insert(ctx, f); err != nil {
		s.unref(ctx, b.Key)
		s.refund(ctx, ownerID, f.Size)
		return nil, err
	}

	ip, ua := callerInfo(ctx)
	s.access.Record(ctx, f.ID, ownerID, accesslog.ActionReference, ip, ua)
	events.Emit(ctx, s.pub, events.FileReferenced, ownerID, f.ID, f.OriginalFilename, f.Size)
	return f, nil
}

// List returns the user's files passing the filters, newest first.
func (s *Service) List(ctx context.Context, ownerID string, fl Filters) ([]types.LogicalFile, error) {
	return s.files.List(ctx, ownerID, fl)
}

// Get returns a file with its recent access history.
func (s *Service) Get(ctx context.Context, userID string, fileID uuid.UUID) (*types.LogicalFile, []accesslog.Entry, error) {
	f, err := s.owned(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.access.History(ctx, fileID, accesslog.DefaultHistoryLimit)
	if err != nil {
		return nil, nil, err
	}
	return f, history, nil
}

// Download returns a file's plaintext content and updates its access
// time and history.
func (s *Service) Download(ctx context.Context, userID string, fileID uuid.UUID) (*types.LogicalFile, []byte, error) {
	f, err := s.owned(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}

	b, payload, err := s.blobs.Get(ctx, f.BlobKey())
	if err != nil {
		return nil, nil, err
	}

	plaintext := payload
	if b.Encrypted() {
		plaintext, err = s.keys.Decrypt(ctx, f.OwnerID, payload, b.Nonce, b.Key.Version)
		if err != nil {
			return nil, nil, err
		}
	}

	now := time.Now()
	if err := s.files.Touch(ctx, f.ID, now); err != nil {
		logger.Warn().Err(err).Str("file_id", f.ID.String()).Msg("failed to update last access time")
	}
	f.LastAccessed = now

	ip, ua := callerInfo(ctx)
	s.access.Record(ctx, f.ID, userID, accesslog.ActionDownload, ip, ua)
	events.Emit(ctx, s.pub, events.FileDownloaded, f.OwnerID, f.ID, f.OriginalFilename, f.Size)
	return f, plaintext, nil
}

// Delete removes a logical file, releases its quota charge, and drops
// its content store reference. The bytes are purged when the last
// reference goes away.
func (s *Service) Delete(ctx context.Context, userID string, fileID uuid.UUID) error {
	f, err := s.owned(ctx, userID, fileID)
	if err != nil {
		return err
	}

	// Row first: a crash after this point leaks at most a blob
	// reference, never a file pointing at purged bytes.
	if err := s.files.Delete(ctx, f.ID); err != nil {
		return err
	}
	s.unref(ctx, f.BlobKey())
	s.refund(ctx, f.OwnerID, f.Size)

	ip, ua := callerInfo(ctx)
	s.access.Record(ctx, f.ID, userID, accesslog.ActionDelete, ip, ua)
	events.Emit(ctx, s.pub, events.FileDeleted, f.OwnerID, f.ID, f.OriginalFilename, f.Size)
	return nil
}

// Storage returns the user's usage snapshot.
func (s *Service) Storage(ctx context.Context, userID string) (usage.Snapshot, error) {
	return s.quota.Snapshot(ctx, userID)
}

func (s *Service) owned(ctx context.Context, userID string, fileID uuid.UUID) (*types.LogicalFile, error) {
	f, err := s.files.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != userID {
		return nil, apierr.E(apierr.ErrForbidden, "file %s does not belong to the caller", fileID)
	}
	return f, nil
}

func (s *Service) unref(ctx context.Context, key types.BlobKey) {
	if _, err := s.blobs.RemoveReference(ctx, key); err != nil {
		logger.Error().Err(err).Str("blob", key.String()).Msg("failed to release blob reference")
	}
}

func (s *Service) refund(ctx context.Context, ownerID string, n int64) {
	if err := s.quota.Release(ctx, ownerID, n); err != nil {
		logger.Error().Err(err).Str("user", ownerID).Msg("failed to refund quota charge")
	}
}
