// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres provides PostgreSQL-backed stores for file records,
// usage accounts, and access history, sharing one connection pool.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		file_type TEXT NOT NULL,
		size BIGINT NOT NULL,
		content_hash TEXT NOT NULL,
		key_version BIGINT NOT NULL,
		encrypted BOOLEAN NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL,
		last_accessed TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_owner ON files (owner_id, uploaded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_files_blob ON files (owner_id, content_hash, key_version)`,
	`CREATE TABLE IF NOT EXISTS usage_accounts (
		user_id TEXT PRIMARY KEY,
		used_bytes BIGINT NOT NULL,
		quota_bytes BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access_log (
		id UUID PRIMARY KEY,
		file_id UUID NOT NULL,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		remote_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_access_log_file ON access_log (file_id, at DESC)`,
}

// Open connects to PostgreSQL and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, nil
}

// FileStore implements registry.Store over PostgreSQL.
type FileStore struct {
	db *sql.DB
}

var _ registry.Store = (*FileStore)(nil)

// NewFileStore wraps an open database.
func NewFileStore(db *sql.DB) *FileStore {
	return &FileStore{db: db}
}

const fileColumns = `id, owner_id, original_filename, file_type, size,
	content_hash, key_version, encrypted, uploaded_at, last_accessed`

func scanFile(row interface{ Scan(...any) error }) (*types.LogicalFile, error) {
	var f types.LogicalFile
	err := row.Scan(&f.ID, &f.OwnerID, &f.OriginalFilename, &f.FileType,
		&f.Size, &f.ContentHash, &f.KeyVersion, &f.Encrypted,
		&f.UploadedAt, &f.LastAccessed)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *FileStore) Insert(ctx context.Context, f *types.LogicalFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.OwnerID, f.OriginalFilename, f.FileType, f.Size,
		f.ContentHash, f.KeyVersion, f.Encrypted, f.UploadedAt, f.LastAccessed)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return apierr.E(apierr.ErrAlreadyExists, "file %s already exists", f.ID)
		}
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id uuid.UUID) (*types.LogicalFile, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.E(apierr.ErrNotFound, "file %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *FileStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.E(apierr.ErrNotFound, "file %s not found", id)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, ownerID string, fl registry.Filters) ([]types.LogicalFile, error) {
	var (
		where = []string{"owner_id = $1"}
		args  = []any{ownerID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if fl.Filename != "" {
		where = append(where, "original_filename ILIKE "+arg("%"+fl.Filename+"%"))
	}
	if fl.FileType != "" {
		where = append(where, "file_type ILIKE "+arg("%"+fl.FileType+"%"))
	}
	if fl.MinSize != nil {
		where = append(where, "size >= "+arg(*fl.MinSize))
	}
	if fl.MaxSize != nil {
		where = append(where, "size <= "+arg(*fl.MaxSize))
	}
	if fl.DateFrom != nil {
		where = append(where, "uploaded_at >= "+arg(*fl.DateFrom))
	}
	if fl.DateTo != nil {
		where = append(where, "uploaded_at < "+arg(fl.DateTo.AddDate(0, 0, 1)))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY uploaded_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []types.LogicalFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *FileStore) CountByBlob(ctx context.Context, key types.BlobKey) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM files
		WHERE owner_id = $1 AND content_hash = $2 AND key_version = $3`,
		key.Scope, key.Hash, key.Version).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by blob: %w", err)
	}
	return n, nil
}

func (s *FileStore) ListBelowVersion(ctx context.Context, ownerID string, version uint32) ([]types.LogicalFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = $1 AND key_version < $2
		ORDER BY uploaded_at ASC`, ownerID, version)
	if err != nil {
		return nil, fmt.Errorf("list below version: %w", err)
	}
	defer rows.Close()

	var out []types.LogicalFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *FileStore) SetKeyVersion(ctx context.Context, id uuid.UUID, version uint32, encrypted bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET key_version = $2, encrypted = $3 WHERE id = $1`,
		id, version, encrypted)
	if err != nil {
		return fmt.Errorf("set key version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.E(apierr.ErrNotFound, "file %s not found", id)
	}
	return nil
}

func (s *FileStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET last_accessed = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.E(apierr.ErrNotFound, "file %s not found", id)
	}
	return nil
}

func (s *FileStore) TotalSizeByUser(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, COALESCE(SUM(size), 0) FROM files GROUP BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("total size by user: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var owner string
		var total int64
		if err := rows.Scan(&owner, &total); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		totals[owner] = total
	}
	return totals, rows.Err()
}

func (s *FileStore) Close() error { return nil }
