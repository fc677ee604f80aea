// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"

	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"
)

// SizeSource reports the authoritative per-user total of logical file
// sizes. Implemented by the file registry.
type SizeSource interface {
	TotalSizeByUser(ctx context.Context) (map[string]int64, error)
}

// Correction records one account whose charged usage drifted from the
// authoritative total.
type Correction struct {
	UserID   string `json:"user_id"`
	Recorded int64  `json:"recorded_bytes"`
	Actual   int64  `json:"actual_bytes"`
}

// Reconciler recomputes charged usage from the registry. Drift can
// accumulate after crashes between a blob write and its usage charge.
type Reconciler struct {
	tracker *Tracker
	source  SizeSource
}

// NewReconciler creates a reconciler over the given tracker and source.
func NewReconciler(tracker *Tracker, source SizeSource) *Reconciler {
	return &Reconciler{tracker: tracker, source: source}
}

// Run recalculates every account and returns the corrections applied.
func (r *Reconciler) Run(ctx context.Context) ([]Correction, error) {
	actual, err := r.source.TotalSizeByUser(ctx)
	if err != nil {
		return nil, err
	}

	accts, err := r.tracker.store.List(ctx)
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]int64, len(accts))
	for _, acct := range accts {
		recorded[acct.UserID] = acct.UsedBytes
	}

	var corrections []Correction
	fix := func(userID string, rec, act int64) error {
		if rec == act {
			return nil
		}
		if err := r.tracker.SetUsed(ctx, userID, act); err != nil {
			return err
		}
		logger.Warn().
			Str("user", userID).
			Int64("recorded_bytes", rec).
			Int64("actual_bytes", act).
			Msg("corrected drifted usage account")
		corrections = append(corrections, Correction{UserID: userID, Recorded: rec, Actual: act})
		return nil
	}

	for userID, act := range actual {
		if err := fix(userID, recorded[userID], act); err != nil {
			return corrections, err
		}
		delete(recorded, userID)
	}
	// Accounts with charges but no files left.
	for userID, rec := range recorded {
		if err := fix(userID, rec, 0); err != nil {
			return corrections, err
		}
	}
	return corrections, nil
}
