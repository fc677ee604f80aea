// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes file lifecycle notifications. Delivery is
// best-effort and never blocks or fails the originating request.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	FileUploaded    = "file:uploaded"
	FileReferenced  = "file:referenced"
	FileDeleted     = "file:deleted"
	FileDownloaded  = "file:downloaded"
	KeyRotationDone = "key:rotation_done"
)

// Event is a single file lifecycle notification.
type Event struct {
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	FileID    uuid.UUID `json:"file_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Size      int64     `json:"size,omitempty"`
	EventTime time.Time `json:"event_time"`
}

// Publisher delivers events to an external channel.
type Publisher interface {
	// Name returns the publisher identifier.
	Name() string

	// Publish sends one event. ownerID selects the delivery channel.
	Publish(ctx context.Context, ownerID string, e *Event) error

	Close() error
}

// NopPublisher discards all events.
type NopPublisher struct{}

var _ Publisher = (*NopPublisher)(nil)

func (NopPublisher) Name() string { return "nop" }

func (NopPublisher) Publish(ctx context.Context, ownerID string, e *Event) error {
	return nil
}

func (NopPublisher) Close() error { return nil }
