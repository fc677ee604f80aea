// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/blob"
	"github.com/LeeDigitalWorks/vaultfs/pkg/events"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring"
	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// DefaultFilesPerSecond bounds how fast a rotation re-encrypts files.
const DefaultFilesPerSecond = 20

var (
	metricsOnce sync.Once
	mRotated    prometheus.Counter
	mFailures   prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		mRotated = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "vaultfs",
			Subsystem: "rotation",
			Name:      "files_rotated_total",
			Help:      "Files successfully re-encrypted during rotation.",
		})
		mFailures = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "vaultfs",
			Subsystem: "rotation",
			Name:      "file_failures_total",
			Help:      "Files that failed re-encryption during rotation.",
		})
	})
}

// Deps are the collaborators a rotation run needs.
type Deps struct {
	Jobs           JobStore
	Files          registry.Store
	Blobs          blob.Store
	Keys           keyring.Keyring
	Publisher      events.Publisher
	FilesPerSecond float64
}

// Coordinator starts and supervises rotation jobs. Work runs on a
// background goroutine per job, detached from the request context.
type Coordinator struct {
	jobs    JobStore
	files   registry.Store
	blobs   blob.Store
	keys    keyring.Keyring
	pub     events.Publisher
	limiter *rate.Limiter

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewCoordinator creates a rotation coordinator.
func NewCoordinator(d Deps) *Coordinator {
	initMetrics()
	if d.FilesPerSecond <= 0 {
		d.FilesPerSecond = DefaultFilesPerSecond
	}
	return &Coordinator{
		jobs:    d.Jobs,
		files:   d.Files,
		blobs:   d.Blobs,
		keys:    d.Keys,
		pub:     d.Publisher,
		limiter: rate.NewLimiter(rate.Limit(d.FilesPerSecond), 1),
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start allocates the new key version and launches the re-encryption
// job. The version flip is immediate: new uploads use the new key while
// the job catches existing files up.
func (c *Coordinator) Start(ctx context.Context, userID string, oldRawKey *string, newRawKey string) (*Job, error) {
	target, err := c.keys.Rotate(ctx, userID, oldRawKey, newRawKey)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:            uuid.New(),
		UserID:        userID,
		TargetVersion: target,
		State:         StatePending,
		StartedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		// The version already flipped; surface the job loss rather
		// than leaving the rotation status stuck.
		if ferr := c.keys.FinishRotation(ctx, userID, true); ferr != nil {
			logger.Error().Err(ferr).Str("user", userID).Msg("failed to mark rotation failed")
		}
		return nil, err
	}

	c.launch(job)
	return job, nil
}

// Resume relaunches jobs that were active when the process stopped.
func (c *Coordinator) Resume(ctx context.Context) error {
	active, err := c.jobs.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range active {
		job := active[i]
		logger.Info().
			Str("job_id", job.ID.String()).
			Str("user", job.UserID).
			Uint32("target_version", job.TargetVersion).
			Msg("resuming interrupted key rotation")
		c.launch(&job)
	}
	return nil
}

// Status returns the job, enforcing ownership.
func (c *Coordinator) Status(ctx context.Context, userID string, jobID uuid.UUID) (*Job, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, apierr.E(apierr.ErrForbidden, "rotation job %s does not belong to the caller", jobID)
	}
	return job, nil
}

// Cancel stops a job after the file currently in flight. Files already
// re-encrypted stay on the new version.
func (c *Coordinator) Cancel(ctx context.Context, userID string, jobID uuid.UUID) error {
	job, err := c.Status(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if !job.State.Active() {
		return apierr.E(apierr.ErrInvalidArgument, "rotation job %s is already %s", jobID, job.State)
	}

	c.mu.Lock()
	cancel, ok := c.cancels[jobID]
	c.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	// Not running in this process (crashed before resume): finalize
	// directly.
	return c.finalize(ctx, job, StateCancelled)
}

// Close cancels all running jobs and waits for them to stop.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) launch(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[job.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.cancels, job.ID)
			c.mu.Unlock()
		}()
		c.run(ctx, job)
	}()
}

func (c *Coordinator) run(ctx context.Context, job *Job) {
	remaining, err := c.files.ListBelowVersion(ctx, job.UserID, job.TargetVersion)
	if err != nil {
		logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("rotation failed to list files")
		c.mustFinalize(job, StatePartiallyFailed)
		return
	}

	job.State = StateRunning
	job.TotalFiles = job.Processed + len(remaining)
	job.UpdatedAt = time.Now()
	if err := c.jobs.Update(ctx, job); err != nil {
		// Finalize anyway so the keyring gate is released; leaving the
		// job running would block every future rotation for the user.
		logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("rotation failed to persist job")
		c.mustFinalize(job, StatePartiallyFailed)
		return
	}

	seen := make(map[uuid.UUID]bool)
	if !c.drain(ctx, job, remaining, seen) {
		c.mustFinalize(job, StateCancelled)
		return
	}

	// A second listing catches files whose encryption started under the
	// old version and landed while the job ran.
	stragglers, err := c.files.ListBelowVersion(ctx, job.UserID, job.TargetVersion)
	if err != nil {
		logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("rotation failed to re-list files")
	} else {
		var fresh []types.LogicalFile
		for _, f := range stragglers {
			if !seen[f.ID] {
				fresh = append(fresh, f)
			}
		}
		if len(fresh) > 0 {
			job.TotalFiles += len(fresh)
			if !c.drain(ctx, job, fresh, seen) {
				c.mustFinalize(job, StateCancelled)
				return
			}
		}
	}

	final := StateCompleted
	if job.Failed > 0 {
		final = StatePartiallyFailed
	}
	c.mustFinalize(job, final)
}

// drain re-encrypts the given files, rate-limited, recording failures
// and continuing. Returns false when the job was cancelled.
func (c *Coordinator) drain(ctx context.Context, job *Job, files []types.LogicalFile, seen map[uuid.UUID]bool) bool {
	for i := range files {
		f := &files[i]
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true

		if err := c.limiter.Wait(ctx); err != nil {
			return false
		}

		if err := c.rotateFile(ctx, job, f); err != nil {
			mFailures.Inc()
			job.Failed++
			job.Failures = append(job.Failures, FileFailure{
				FileID:   f.ID,
				Filename: f.OriginalFilename,
				Reason:   err.Error(),
			})
			logger.Warn().
				Err(err).
				Str("job_id", job.ID.String()).
				Str("file_id", f.ID.String()).
				Msg("file failed re-encryption, continuing")
		} else {
			mRotated.Inc()
		}
		job.Processed++
		job.UpdatedAt = time.Now()
		if err := c.jobs.Update(context.WithoutCancel(ctx), job); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("rotation failed to persist progress")
		}
	}
	return true
}

// rotateFile moves one file from its current blob to one encrypted
// under the target version. The old reference is dropped last so a
// failure at any step leaves the file readable.
func (c *Coordinator) rotateFile(ctx context.Context, job *Job, f *types.LogicalFile) error {
	oldKey := f.BlobKey()
	b, payload, err := c.blobs.Get(ctx, oldKey)
	if err != nil {
		return err
	}

	plaintext := payload
	if b.Encrypted() {
		plaintext, err = c.keys.Decrypt(ctx, job.UserID, payload, b.Nonce, b.Key.Version)
		if err != nil {
			return err
		}
	}

	ciphertext, nonce, version, err := c.keys.Encrypt(ctx, job.UserID, plaintext)
	if err != nil {
		return err
	}

	newKey := types.BlobKey{Hash: f.ContentHash, Scope: job.UserID, Version: version}
	meta := blob.Meta{Nonce: nonce, PlaintextSize: b.PlaintextSize}
	if _, err := c.blobs.Put(ctx, newKey, ciphertext, meta); err != nil {
		if !apierr.Is(err, apierr.ErrAlreadyExists) {
			return err
		}
		// Another file sharing the content already moved the blob.
		if _, err := c.blobs.AddReference(ctx, newKey); err != nil {
			return err
		}
	}

	if err := c.files.SetKeyVersion(ctx, f.ID, version, true); err != nil {
		// Roll the new reference back; the file still points at the
		// old blob.
		if _, rerr := c.blobs.RemoveReference(ctx, newKey); rerr != nil {
			logger.Error().Err(rerr).Str("blob", newKey.String()).Msg("failed to roll back blob reference")
		}
		return err
	}

	if _, err := c.blobs.RemoveReference(ctx, oldKey); err != nil {
		logger.Error().Err(err).Str("blob", oldKey.String()).Msg("failed to release old blob reference")
	}
	return nil
}

func (c *Coordinator) mustFinalize(job *Job, final State) {
	if err := c.finalize(context.Background(), job, final); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("rotation failed to finalize job")
	}
}

func (c *Coordinator) finalize(ctx context.Context, job *Job, final State) error {
	now := time.Now()
	job.State = final
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err := c.jobs.Update(ctx, job); err != nil {
		return err
	}

	failed := final != StateCompleted
	if err := c.keys.FinishRotation(ctx, job.UserID, failed); err != nil {
		return err
	}

	logger.Info().
		Str("job_id", job.ID.String()).
		Str("user", job.UserID).
		Str("state", string(final)).
		Int("processed", job.Processed).
		Int("failed", job.Failed).
		Msg("key rotation finished")
	events.Emit(ctx, c.pub, events.KeyRotationDone, job.UserID, job.ID, "", 0)
	return nil
}
