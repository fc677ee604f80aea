// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"

	"github.com/dustin/go-humanize"
)

// Tracker enforces quotas on top of a Store. A per-user mutex makes
// check-then-charge atomic across concurrent requests.
type Tracker struct {
	store        Store
	defaultQuota int64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a tracker. Users without an explicit quota get
// defaultQuota bytes.
func NewTracker(store Store, defaultQuota int64) *Tracker {
	return &Tracker{
		store:        store,
		defaultQuota: defaultQuota,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) userLock(userID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[userID] = l
	}
	return l
}

func (t *Tracker) account(ctx context.Context, userID string) (*Account, error) {
	acct, err := t.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		acct = &Account{
			UserID:     userID,
			QuotaBytes: t.defaultQuota,
			UpdatedAt:  time.Now(),
		}
	}
	return acct, nil
}

// Charge adds n bytes to the user's usage, failing if the quota would
// be exceeded. The charge is all-or-nothing.
func (t *Tracker) Charge(ctx context.Context, userID string, n int64) error {
	if n < 0 {
		return apierr.E(apierr.ErrInvalidArgument, "charge must be non-negative, got %d", n)
	}

	l := t.userLock(userID)
	l.Lock()
	defer l.Unlock()

	acct, err := t.account(ctx, userID)
	if err != nil {
		return err
	}
	if acct.UsedBytes+n > acct.QuotaBytes {
		quotaDenials().Inc()
		return apierr.E(apierr.ErrQuotaExceeded,
			"storing %s would exceed quota (%s of %s used)",
			humanize.IBytes(uint64(n)),
			humanize.IBytes(uint64(acct.UsedBytes)),
			humanize.IBytes(uint64(acct.QuotaBytes)))
	}
	acct.UsedBytes += n
	acct.UpdatedAt = time.Now()
	if err := t.store.Put(ctx, acct); err != nil {
		return err
	}
	usedBytesGauge().WithLabelValues(userID).Set(float64(acct.UsedBytes))
	return nil
}

// Release subtracts n bytes from the user's usage, clamping at zero.
func (t *Tracker) Release(ctx context.Context, userID string, n int64) error {
	if n < 0 {
		return apierr.E(apierr.ErrInvalidArgument, "release must be non-negative, got %d", n)
	}

	l := t.userLock(userID)
	l.Lock()
	defer l.Unlock()

	acct, err := t.account(ctx, userID)
	if err != nil {
		return err
	}
	acct.UsedBytes -= n
	if acct.UsedBytes < 0 {
		acct.UsedBytes = 0
	}
	acct.UpdatedAt = time.Now()
	if err := t.store.Put(ctx, acct); err != nil {
		return err
	}
	usedBytesGauge().WithLabelValues(userID).Set(float64(acct.UsedBytes))
	return nil
}

// SetQuota changes the user's quota. Usage above the new quota is kept;
// it only blocks further charges.
func (t *Tracker) SetQuota(ctx context.Context, userID string, quota int64) error {
	if quota < 0 {
		return apierr.E(apierr.ErrInvalidArgument, "quota must be non-negative, got %d", quota)
	}

	l := t.userLock(userID)
	l.Lock()
	defer l.Unlock()

	acct, err := t.account(ctx, userID)
	if err != nil {
		return err
	}
	acct.QuotaBytes = quota
	acct.UpdatedAt = time.Now()
	return t.store.Put(ctx, acct)
}

// SetUsed overwrites the user's usage. Used by reconciliation.
func (t *Tracker) SetUsed(ctx context.Context, userID string, used int64) error {
	if used < 0 {
		used = 0
	}

	l := t.userLock(userID)
	l.Lock()
	defer l.Unlock()

	acct, err := t.account(ctx, userID)
	if err != nil {
		return err
	}
	acct.UsedBytes = used
	acct.UpdatedAt = time.Now()
	if err := t.store.Put(ctx, acct); err != nil {
		return err
	}
	usedBytesGauge().WithLabelValues(userID).Set(float64(used))
	return nil
}

// Snapshot returns the user's current usage and quota.
func (t *Tracker) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	acct, err := t.account(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(acct), nil
}
