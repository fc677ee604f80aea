// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package rotation re-encrypts a user's stored files under a new key
// version. Jobs survive restarts and tolerate per-file failures: one
// bad file never blocks the rest.
package rotation

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a rotation job.
type State string

const (
	StatePending         State = "pending"
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
	StateCancelled       State = "cancelled"
)

// Active reports whether the job still has work pending.
func (s State) Active() bool {
	return s == StatePending || s == StateRunning
}

// FileFailure records one file that could not be re-encrypted.
type FileFailure struct {
	FileID   uuid.UUID `json:"file_id"`
	Filename string    `json:"filename"`
	Reason   string    `json:"reason"`
}

// Job is one key rotation run for a user.
type Job struct {
	ID            uuid.UUID     `json:"id"`
	UserID        string        `json:"user_id"`
	TargetVersion uint32        `json:"target_version"`
	State         State         `json:"state"`
	TotalFiles    int           `json:"total_files"`
	Processed     int           `json:"processed"`
	Failed        int           `json:"failed"`
	Failures      []FileFailure `json:"failures,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}
