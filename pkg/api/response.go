// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/accesslog"
	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"
	"github.com/LeeDigitalWorks/vaultfs/pkg/rotation"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"

	"github.com/dustin/go-humanize"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	}

	var body errorBody
	body.Error.Code = apierr.CodeOf(err)
	body.Error.Message = err.Error()
	if status >= http.StatusInternalServerError {
		// Internal details stay in the logs.
		body.Error.Message = "internal error"
	}
	writeJSON(w, status, body)
}

type fileResponse struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"`
	UploadDate       time.Time `json:"upload_date"`
	LastAccessed     time.Time `json:"last_accessed"`
	FileSize         string    `json:"file_size"`
	SizeBytes        int64     `json:"size_bytes"`
	IsEncrypted      bool      `json:"is_encrypted"`
	FileHash         string    `json:"file_hash"`
	KeyVersion       uint32    `json:"key_version"`
	DownloadURL      string    `json:"download_url"`
}

func newFileResponse(f *types.LogicalFile) fileResponse {
	return fileResponse{
		ID:               f.ID.String(),
		OriginalFilename: f.OriginalFilename,
		FileType:         f.FileType,
		UploadDate:       f.UploadedAt,
		LastAccessed:     f.LastAccessed,
		FileSize:         humanize.IBytes(uint64(f.Size)),
		SizeBytes:        f.Size,
		IsEncrypted:      f.Encrypted,
		FileHash:         f.ContentHash,
		KeyVersion:       f.KeyVersion,
		DownloadURL:      "/api/files/" + f.ID.String() + "/download",
	}
}

type accessEntryResponse struct {
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	RemoteIP  string    `json:"remote_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

type fileDetailResponse struct {
	fileResponse
	AccessLogs []accessEntryResponse `json:"access_logs"`
}

func newFileDetailResponse(f *types.LogicalFile, history []accesslog.Entry) fileDetailResponse {
	out := fileDetailResponse{
		fileResponse: newFileResponse(f),
		AccessLogs:   make([]accessEntryResponse, 0, len(history)),
	}
	for _, e := range history {
		out.AccessLogs = append(out.AccessLogs, accessEntryResponse{
			UserID:    e.UserID,
			Action:    string(e.Action),
			RemoteIP:  e.RemoteIP,
			UserAgent: e.UserAgent,
			At:        e.At,
		})
	}
	return out
}

type rotationJobResponse struct {
	JobID         string                 `json:"job_id"`
	State         string                 `json:"state"`
	TargetVersion uint32                 `json:"target_version"`
	TotalFiles    int                    `json:"total_files"`
	Processed     int                    `json:"processed"`
	Failed        int                    `json:"failed"`
	Failures      []rotation.FileFailure `json:"failures,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

func newRotationJobResponse(job *rotation.Job) rotationJobResponse {
	return rotationJobResponse{
		JobID:         job.ID.String(),
		State:         string(job.State),
		TargetVersion: job.TargetVersion,
		TotalFiles:    job.TotalFiles,
		Processed:     job.Processed,
		Failed:        job.Failed,
		Failures:      job.Failures,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
}
