// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"

	"github.com/google/uuid"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.E(apierr.ErrInvalidArgument, "request body is required")
		}
		return apierr.E(apierr.ErrInvalidArgument, "invalid request body: %v", err)
	}
	return nil
}

type patchProfileRequest struct {
	EncryptionKey *string `json:"encryption_key"`
}

func (s *Server) patchProfile(w http.ResponseWriter, r *http.Request) {
	var req patchProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.EncryptionKey == nil {
		writeError(w, apierr.E(apierr.ErrInvalidArgument, "encryption_key is required"))
		return
	}

	userID := caller(r).UserID
	if err := s.keys.SetInitialKey(r.Context(), userID, *req.EncryptionKey); err != nil {
		writeError(w, err)
		return
	}

	version, err := s.keys.CurrentVersion(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_encryption_key": true,
		"key_version":        version,
	})
}

type rotateKeyRequest struct {
	OldEncryptionKey *string `json:"old_encryption_key"`
	NewEncryptionKey string  `json:"new_encryption_key"`
}

type rotateKeyResponse struct {
	JobID       string `json:"job_id"`
	FromVersion uint32 `json:"from_version"`
	ToVersion   uint32 `json:"to_version"`
	Pending     bool   `json:"pending"`
}

func (s *Server) rotateKey(w http.ResponseWriter, r *http.Request) {
	var req rotateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.NewEncryptionKey == "" {
		writeError(w, apierr.E(apierr.ErrInvalidArgument, "new_encryption_key is required"))
		return
	}

	job, err := s.coord.Start(r.Context(), caller(r).UserID, req.OldEncryptionKey, req.NewEncryptionKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rotateKeyResponse{
		JobID:       job.ID.String(),
		FromVersion: job.TargetVersion - 1,
		ToVersion:   job.TargetVersion,
		Pending:     true,
	})
}

func (s *Server) rotationStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeError(w, apierr.E(apierr.ErrInvalidArgument, "invalid job id"))
		return
	}

	job, err := s.coord.Status(r.Context(), caller(r).UserID, jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRotationJobResponse(job))
}

func (s *Server) cancelRotation(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeError(w, apierr.E(apierr.ErrInvalidArgument, "invalid job id"))
		return
	}

	if err := s.coord.Cancel(r.Context(), caller(r).UserID, jobID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) storage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Storage(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
