// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package accesslog

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultHistoryLimit is how many entries file detail views return.
const DefaultHistoryLimit = 20

var (
	metricsOnce sync.Once
	mRecorded   *prometheus.CounterVec
	mDropped    prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		mRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultfs",
			Subsystem: "accesslog",
			Name:      "entries_total",
			Help:      "Access log entries recorded, by action.",
		}, []string{"action"})
		mDropped = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "vaultfs",
			Subsystem: "accesslog",
			Name:      "dropped_total",
			Help:      "Access log entries dropped due to store errors.",
		})
	})
}

// Recorder writes access entries without surfacing store failures.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder over store.
func NewRecorder(store Store) *Recorder {
	initMetrics()
	return &Recorder{store: store}
}

// Record appends an entry. Store errors are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, fileID uuid.UUID, userID string, action Action, remoteIP, userAgent string) {
	e := &Entry{
		ID:        uuid.New(),
		FileID:    fileID,
		UserID:    userID,
		Action:    action,
		RemoteIP:  remoteIP,
		UserAgent: userAgent,
		At:        time.Now(),
	}
	if err := r.store.Append(ctx, e); err != nil {
		mDropped.Inc()
		logger.Warn().
			Err(err).
			Str("file_id", fileID.String()).
			Str("action", string(action)).
			Msg("failed to record access log entry")
		return
	}
	mRecorded.WithLabelValues(string(action)).Inc()
}

// History returns the most recent entries for a file, newest first.
func (r *Recorder) History(ctx context.Context, fileID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return r.store.Recent(ctx, fileID, limit)
}
