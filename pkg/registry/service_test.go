// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package registry_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/accesslog"
	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/blob"
	vfctx "github.com/LeeDigitalWorks/vaultfs/pkg/context"
	"github.com/LeeDigitalWorks/vaultfs/pkg/events"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"
	regmem "github.com/LeeDigitalWorks/vaultfs/pkg/registry/memory"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"
	"github.com/LeeDigitalWorks/vaultfs/pkg/usage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *registry.Service
	blobs blob.Store
	keys  keyring.Keyring
	quota *usage.Tracker
}

func newFixture(t *testing.T, quotaBytes int64) *fixture {
	t.Helper()
	keys, err := keyring.NewService(keyring.NewMemoryRecordStore(), bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	blobs := blob.NewMemoryStore()
	quota := usage.NewTracker(usage.NewMemoryStore(), quotaBytes)
	svc := registry.NewService(registry.Deps{
		Files:     regmem.NewStore(),
		Blobs:     blobs,
		Keys:      keys,
		Quota:     quota,
		Access:    accesslog.NewRecorder(accesslog.NewMemoryStore()),
		Publisher: events.NopPublisher{},
	})
	return &fixture{svc: svc, blobs: blobs, keys: keys, quota: quota}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)
	require.NoError(t, fx.keys.SetInitialKey(ctx, "alice", "hunter2"))

	content := []byte("quarterly numbers")
	f, err := fx.svc.Upload(ctx, "alice", "report.pdf", "application/pdf", content, "")
	require.NoError(t, err)
	assert.True(t, f.Encrypted)
	assert.Equal(t, uint32(1), f.KeyVersion)
	assert.Equal(t, int64(len(content)), f.Size)
	assert.Equal(t, blob.ComputeHash(content), f.ContentHash)

	// Stored bytes are not the plaintext.
	b, payload, err := fx.blobs.Get(ctx, f.BlobKey())
	require.NoError(t, err)
	assert.NotEqual(t, content, payload)
	assert.Equal(t, int64(len(content)), b.PlaintextSize)

	got, plaintext, err := fx.svc.Download(ctx, "alice", f.ID)
	require.NoError(t, err)
	assert.Equal(t, content, plaintext)
	assert.False(t, got.LastAccessed.IsZero())
}

func TestUploadWithoutKeyStoresPlaintext(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)

	content := []byte("no key yet")
	f, err := fx.svc.Upload(ctx, "alice", "notes.txt", "text/plain", content, "")
	require.NoError(t, err)
	assert.False(t, f.Encrypted)
	assert.Equal(t, types.PlainKeyVersion, f.KeyVersion)

	_, payload, err := fx.blobs.Get(ctx, f.BlobKey())
	require.NoError(t, err)
	assert.Equal(t, content, payload)

	_, plaintext, err := fx.svc.Download(ctx, "alice", f.ID)
	require.NoError(t, err)
	assert.Equal(t, content, plaintext)
}

func TestUploadHashMismatch(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)

	_, err := fx.svc.Upload(ctx, "alice", "a.txt", "text/plain", []byte("content"), "deadbeef")
	assert.True(t, apierr.Is(err, apierr.ErrInvalidArgument), "got %v", err)
}

func TestUploadTooLarge(t *testing.T) {
	ctx := context.Background()
	keys, err := keyring.NewService(keyring.NewMemoryRecordStore(), bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	svc := registry.NewService(registry.Deps{
		Files:        regmem.NewStore(),
		Blobs:        blob.NewMemoryStore(),
		Keys:         keys,
		Quota:        usage.NewTracker(usage.NewMemoryStore(), types.DefaultQuotaBytes),
		Access:       accesslog.NewRecorder(accesslog.NewMemoryStore()),
		Publisher:    events.NopPublisher{},
		MaxFileBytes: 16,
	})

	_, err = svc.Upload(ctx, "alice", "big.bin", "application/octet-stream",
		bytes.Repeat([]byte{1}, 17), "")
	assert.True(t, apierr.Is(err, apierr.ErrEntityTooLarge), "got %v", err)
}

func TestUploadDeduplicates(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)
	require.NoError(t, fx.keys.SetInitialKey(ctx, "alice", "hunter2"))

	content := []byte("shared bytes")
	f1, err := fx.svc.Upload(ctx, "alice", "one.txt", "text/plain", content, "")
	require.NoError(t, err)
	f2, err := fx.svc.Upload(ctx, "alice", "two.txt", "text/plain", content, "")
	require.NoError(t, err)

	assert.NotEqual(t, f1.ID, f2.ID)
	assert.Equal(t, f1.BlobKey(), f2.BlobKey())

	b, _, err := fx.blobs.Get(ctx, f1.BlobKey())
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.RefCount)

	// Both logical files are charged.
	snap, err := fx.quota.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2*int64(len(content)), snap.UsedBytes)
}

func TestDedupIsScopedPerUser(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)

	content := []byte("same content everywhere")
	fa, err := fx.svc.Upload(ctx, "alice", "a.txt", "text/plain", content, "")
	require.NoError(t, err)
	fb, err := fx.svc.Upload(ctx, "bob", "b.txt", "text/plain", content, "")
	require.NoError(t, err)

	assert.NotEqual(t, fa.BlobKey(), fb.BlobKey())
	for _, f := range []*types.LogicalFile{fa, fb} {
		b, _, err := fx.blobs.Get(ctx, f.BlobKey())
		require.NoError(t, err)
		assert.Equal(t, int64(1), b.RefCount)
	}
}

func TestCheckHash(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)

	content := []byte("checkable")
	hash := blob.ComputeHash(content)

	exists, err := fx.svc.CheckHash(ctx, "alice", hash)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = fx.svc.Upload(ctx, "alice", "c.txt", "text/plain", content, "")
	require.NoError(t, err)

	exists, err = fx.svc.CheckHash(ctx, "alice", hash)
	require.NoError(t, err)
	assert.True(t, exists)

	// Another user's content does not leak through the check.
	exists, err = fx.svc.CheckHash(ctx, "bob", hash)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReferenceExisting(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)

	content := []byte("referenced content")
	hash := blob.ComputeHash(content)

	_, err := fx.svc.ReferenceExisting(ctx, "alice", hash, "ref.txt", "text/plain")
	assert.True(t, apierr.Is(err, apierr.ErrNotFound), "got %v", err)

	orig, err := fx.svc.Upload(ctx, "alice", "orig.txt", "text/plain", content, "")
	require.NoError(t, err)

	ref, err := fx.svc.ReferenceExisting(ctx, "alice", hash, "ref.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, orig.BlobKey(), ref.BlobKey())
	assert.Equal(t, orig.Size, ref.Size)

	b, _, err := fx.blobs.Get(ctx, orig.BlobKey())
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.RefCount)

	snap, err := fx.quota.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2*int64(len(content)), snap.UsedBytes)
}

func TestUploadAfterRotationUsesCurrentVersion(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)
	require.NoError(t, fx.keys.SetInitialKey(ctx, "alice", "hunter2"))

	content := []byte("shared content")
	f1, err := fx.svc.Upload(ctx, "alice", "one.txt", "text/plain", content, "")
	require.NoError(t, err)
	require.Equal(t, uint32(1), f1.KeyVersion)

	// The version flips immediately; re-encryption of existing blobs
	// happens out of band and may never finish.
	_, err = fx.keys.Rotate(ctx, "alice", nil, "hunter3")
	require.NoError(t, err)

	f2, err := fx.svc.Upload(ctx, "alice", "two.txt", "text/plain", content, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), f2.KeyVersion,
		"new uploads must not dedup-match blobs left on the old key version")
	assert.NotEqual(t, f1.BlobKey(), f2.BlobKey())

	// The old blob keeps only its own reference.
	b, _, err := fx.blobs.Get(ctx, f1.BlobKey())
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.RefCount)

	// Both files still round-trip.
	for _, f := range []*types.LogicalFile{f1, f2} {
		_, got, err := fx.svc.Download(ctx, "alice", f.ID)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}
}

func TestReferenceRequiresCurrentVersionBlob(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)
	require.NoError(t, fx.keys.SetInitialKey(ctx, "alice", "hunter2"))

	content := []byte("stale content")
	hash := blob.ComputeHash(content)
	_, err := fx.svc.Upload(ctx, "alice", "old.txt", "text/plain", content, "")
	require.NoError(t, err)

	_, err = fx.keys.Rotate(ctx, "alice", nil, "hunter3")
	require.NoError(t, err)

	// The blob exists only under the rotated-away version; referencing
	// it would attach a new file to the old key.
	_, err = fx.svc.ReferenceExisting(ctx, "alice", hash, "ref.txt", "text/plain")
	assert.True(t, apierr.Is(err, apierr.ErrNotFound), "got %v", err)
}

func TestDeletePurgesLastReference(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)

	content := []byte("doomed")
	f1, err := fx.svc.Upload(ctx, "alice", "one.txt", "text/plain", content, "")
	require.NoError(t, err)
	f2, err := fx.svc.Upload(ctx, "alice", "two.txt", "text/plain", content, "")
	require.NoError(t, err)

	require.NoError(t, fx.svc.Delete(ctx, "alice", f1.ID))

	// Blob survives while another file references it.
	b, _, err := fx.blobs.Get(ctx, f2.BlobKey())
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.RefCount)

	require.NoError(t, fx.svc.Delete(ctx, "alice", f2.ID))

	_, _, err = fx.blobs.Get(ctx, f2.BlobKey())
	assert.True(t, apierr.Is(err, apierr.ErrNotFound), "blob must be purged, got %v", err)

	snap, err := fx.quota.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, snap.UsedBytes)

	err = fx.svc.Delete(ctx, "alice", f1.ID)
	assert.True(t, apierr.Is(err, apierr.ErrNotFound), "got %v", err)
}

func TestOwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)

	f, err := fx.svc.Upload(ctx, "alice", "private.txt", "text/plain", []byte("mine"), "")
	require.NoError(t, err)

	_, _, err = fx.svc.Download(ctx, "bob", f.ID)
	assert.True(t, apierr.Is(err, apierr.ErrForbidden), "got %v", err)
	_, _, err = fx.svc.Get(ctx, "bob", f.ID)
	assert.True(t, apierr.Is(err, apierr.ErrForbidden), "got %v", err)
	err = fx.svc.Delete(ctx, "bob", f.ID)
	assert.True(t, apierr.Is(err, apierr.ErrForbidden), "got %v", err)

	_, _, err = fx.svc.Get(ctx, "alice", uuid.New())
	assert.True(t, apierr.Is(err, apierr.ErrNotFound), "got %v", err)
}

func TestQuotaEnforcedOnUpload(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 100)

	_, err := fx.svc.Upload(ctx, "alice", "a.bin", "application/octet-stream",
		bytes.Repeat([]byte{1}, 95), "")
	require.NoError(t, err)

	_, err = fx.svc.Upload(ctx, "alice", "b.bin", "application/octet-stream",
		bytes.Repeat([]byte{2}, 10), "")
	assert.True(t, apierr.Is(err, apierr.ErrQuotaExceeded), "got %v", err)

	// The rejected upload must not leave charges or blobs behind.
	snap, err := fx.quota.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(95), snap.UsedBytes)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)

	_, err := fx.svc.Upload(ctx, "alice", "Report-Final.pdf", "application/pdf", []byte("pdf content"), "")
	require.NoError(t, err)
	_, err = fx.svc.Upload(ctx, "alice", "photo.jpg", "image/jpeg", bytes.Repeat([]byte{1}, 500), "")
	require.NoError(t, err)
	_, err = fx.svc.Upload(ctx, "bob", "report.pdf", "application/pdf", []byte("not alices"), "")
	require.NoError(t, err)

	t.Run("owner scoped, newest first", func(t *testing.T) {
		files, err := fx.svc.List(ctx, "alice", registry.Filters{})
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.False(t, files[0].UploadedAt.Before(files[1].UploadedAt))
	})

	t.Run("filename is case-insensitive substring", func(t *testing.T) {
		files, err := fx.svc.List(ctx, "alice", registry.Filters{Filename: "report"})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "Report-Final.pdf", files[0].OriginalFilename)
	})

	t.Run("file type", func(t *testing.T) {
		files, err := fx.svc.List(ctx, "alice", registry.Filters{FileType: "image/jpeg"})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "photo.jpg", files[0].OriginalFilename)
	})

	t.Run("size bounds", func(t *testing.T) {
		min, max := int64(100), int64(1000)
		files, err := fx.svc.List(ctx, "alice", registry.Filters{MinSize: &min, MaxSize: &max})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "photo.jpg", files[0].OriginalFilename)
	})

	t.Run("date range includes the whole end day", func(t *testing.T) {
		today := time.Now().Truncate(24 * time.Hour)
		files, err := fx.svc.List(ctx, "alice", registry.Filters{DateFrom: &today, DateTo: &today})
		require.NoError(t, err)
		assert.Len(t, files, 2)

		yesterday := today.AddDate(0, 0, -1)
		files, err = fx.svc.List(ctx, "alice", registry.Filters{DateTo: &yesterday})
		require.NoError(t, err)
		assert.Empty(t, files)
	})
}

func TestGetReturnsAccessHistory(t *testing.T) {
	ctx := vfctx.WithCaller(context.Background(), vfctx.Caller{
		UserID: "alice", RemoteIP: "10.1.2.3", UserAgent: "test-agent",
	})
	fx := newFixture(t, types.DefaultQuotaBytes)

	f, err := fx.svc.Upload(ctx, "alice", "hist.txt", "text/plain", []byte("history"), "")
	require.NoError(t, err)
	_, _, err = fx.svc.Download(ctx, "alice", f.ID)
	require.NoError(t, err)

	_, history, err := fx.svc.Get(ctx, "alice", f.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, accesslog.ActionDownload, history[0].Action)
	assert.Equal(t, accesslog.ActionUpload, history[1].Action)
	assert.Equal(t, "10.1.2.3", history[0].RemoteIP)
	assert.Equal(t, "test-agent", history[0].UserAgent)
}

func TestConcurrentIdenticalUploads(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, types.DefaultQuotaBytes)
	require.NoError(t, fx.keys.SetInitialKey(ctx, "alice", "hunter2"))

	content := []byte("raced content")
	const n = 8

	var wg sync.WaitGroup
	files := make([]*types.LogicalFile, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			files[i], errs[i] = fx.svc.Upload(ctx, "alice", "raced.txt", "text/plain", content, "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	// All files share one blob with refcount n.
	key := files[0].BlobKey()
	for _, f := range files[1:] {
		assert.Equal(t, key, f.BlobKey())
	}
	b, _, err := fx.blobs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(n), b.RefCount)

	snap, err := fx.quota.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(n*len(content)), snap.UsedBytes)
}
