// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"

	"github.com/google/uuid"
)

// Emit publishes an event, logging delivery failures instead of
// returning them.
func Emit(ctx context.Context, pub Publisher, name, ownerID string, fileID uuid.UUID, filename string, size int64) {
	if pub == nil {
		return
	}
	e := &Event{
		Name:      name,
		OwnerID:   ownerID,
		FileID:    fileID,
		Filename:  filename,
		Size:      size,
		EventTime: time.Now(),
	}
	if err := pub.Publish(ctx, ownerID, e); err != nil {
		logger.Warn().
			Err(err).
			Str("publisher", pub.Name()).
			Str("event", name).
			Msg("event delivery failed")
	}
}
