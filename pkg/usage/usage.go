// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package usage tracks per-user storage consumption against quotas.
//
// Every user referencing a stored file is charged its full logical size,
// regardless of deduplication at the blob layer. Charges are serialized
// per user so concurrent uploads cannot overshoot the quota.
package usage

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
)

// Account is one user's storage accounting row.
type Account struct {
	UserID     string    `json:"user_id"`
	UsedBytes  int64     `json:"used_bytes"`
	QuotaBytes int64     `json:"quota_bytes"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot is a read-only view of an account, with display strings.
type Snapshot struct {
	UserID         string `json:"user_id"`
	UsedBytes      int64  `json:"used_bytes"`
	QuotaBytes     int64  `json:"quota_bytes"`
	AvailableBytes int64  `json:"available_bytes"`
	UsedDisplay    string `json:"used_display"`
	QuotaDisplay   string `json:"quota_display"`
}

func newSnapshot(a *Account) Snapshot {
	avail := a.QuotaBytes - a.UsedBytes
	if avail < 0 {
		avail = 0
	}
	return Snapshot{
		UserID:         a.UserID,
		UsedBytes:      a.UsedBytes,
		QuotaBytes:     a.QuotaBytes,
		AvailableBytes: avail,
		UsedDisplay:    humanize.IBytes(uint64(a.UsedBytes)),
		QuotaDisplay:   humanize.IBytes(uint64(a.QuotaBytes)),
	}
}

// Store defines the interface for usage account persistence.
type Store interface {
	// Get retrieves an account, or nil if the user has none yet.
	Get(ctx context.Context, userID string) (*Account, error)

	// Put inserts or replaces an account.
	Put(ctx context.Context, acct *Account) error

	// List returns all accounts.
	List(ctx context.Context) ([]Account, error)

	Close() error
}
