// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/vaultfs/pkg/usage"
)

// UsageStore implements usage.Store over PostgreSQL.
type UsageStore struct {
	db *sql.DB
}

var _ usage.Store = (*UsageStore)(nil)

// NewUsageStore wraps an open database.
func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) Get(ctx context.Context, userID string) (*usage.Account, error) {
	var a usage.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, used_bytes, quota_bytes, updated_at
		FROM usage_accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &a.UsedBytes, &a.QuotaBytes, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage account: %w", err)
	}
	return &a, nil
}

func (s *UsageStore) Put(ctx context.Context, acct *usage.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_accounts (user_id, used_bytes, quota_bytes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			used_bytes = EXCLUDED.used_bytes,
			quota_bytes = EXCLUDED.quota_bytes,
			updated_at = EXCLUDED.updated_at`,
		acct.UserID, acct.UsedBytes, acct.QuotaBytes, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put usage account: %w", err)
	}
	return nil
}

func (s *UsageStore) List(ctx context.Context) ([]usage.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, used_bytes, quota_bytes, updated_at FROM usage_accounts`)
	if err != nil {
		return nil, fmt.Errorf("list usage accounts: %w", err)
	}
	defer rows.Close()

	var out []usage.Account
	for rows.Next() {
		var a usage.Account
		if err := rows.Scan(&a.UserID, &a.UsedBytes, &a.QuotaBytes, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan usage account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *UsageStore) Close() error { return nil }
