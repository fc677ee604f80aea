// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/LeeDigitalWorks/vaultfs/pkg/accesslog"

	"github.com/google/uuid"
)

// AccessLogStore implements accesslog.Store over PostgreSQL.
type AccessLogStore struct {
	db *sql.DB
}

var _ accesslog.Store = (*AccessLogStore)(nil)

// NewAccessLogStore wraps an open database.
func NewAccessLogStore(db *sql.DB) *AccessLogStore {
	return &AccessLogStore{db: db}
}

func (s *AccessLogStore) Append(ctx context.Context, e *accesslog.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_log (id, file_id, user_id, action, remote_ip, user_agent, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.FileID, e.UserID, e.Action, e.RemoteIP, e.UserAgent, e.At)
	if err != nil {
		return fmt.Errorf("append access log: %w", err)
	}
	return nil
}

func (s *AccessLogStore) Recent(ctx context.Context, fileID uuid.UUID, limit int) ([]accesslog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, user_id, action, remote_ip, user_agent, at
		FROM access_log WHERE file_id = $1
		ORDER BY at DESC LIMIT $2`, fileID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent access log: %w", err)
	}
	defer rows.Close()

	var out []accesslog.Entry
	for rows.Next() {
		var e accesslog.Entry
		if err := rows.Scan(&e.ID, &e.FileID, &e.UserID, &e.Action, &e.RemoteIP, &e.UserAgent, &e.At); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *AccessLogStore) Close() error { return nil }
