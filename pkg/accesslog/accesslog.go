// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package accesslog records file access history. Recording is
// best-effort: a failed write is logged and never fails the request
// that triggered it.
package accesslog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action identifies what was done to a file.
type Action string

const (
	ActionUpload    Action = "upload"
	ActionDownload  Action = "download"
	ActionReference Action = "reference"
	ActionDelete    Action = "delete"
	ActionRotate    Action = "rotate"
)

// Entry is a single access history record.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	FileID    uuid.UUID `json:"file_id"`
	UserID    string    `json:"user_id"`
	Action    Action    `json:"action"`
	RemoteIP  string    `json:"remote_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

// Store defines the interface for access history persistence.
type Store interface {
	// Append inserts an entry.
	Append(ctx context.Context, e *Entry) error

	// Recent returns up to limit entries for a file, newest first.
	Recent(ctx context.Context, fileID uuid.UUID, limit int) ([]Entry, error)

	Close() error
}
