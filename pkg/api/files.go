// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"

	"github.com/google/uuid"
)

// multipart bodies buffer to disk beyond this.
const uploadMemoryLimit = 32 << 20

func (s *Server) checkHash(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		writeError(w, apierr.E(apierr.ErrInvalidArgument, "hash query parameter is required"))
		return
	}

	exists, err := s.svc.CheckHash(r.Context(), caller(r).UserID, hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		writeError(w, apierr.E(apierr.ErrInvalidArgument, "invalid multipart body: %v", err))
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apierr.E(apierr.ErrInvalidArgument, `multipart field "file" is required`))
		return
	}
	defer part.Close()

	content, err := io.ReadAll(part)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.ErrInternal, err, "read upload body"))
		return
	}

	fileType := r.FormValue("file_type")
	if fileType == "" {
		fileType = header.Header.Get("Content-Type")
	}
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	f, err := s.svc.Upload(r.Context(), caller(r).UserID, header.Filename, fileType,
		content, r.FormValue("file_hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFileResponse(f))
}

type referenceRequest struct {
	FileHash         string `json:"file_hash"`
	OriginalFilename string `json:"original_filename"`
	FileType         string `json:"file_type"`
}

func (s *Server) reference(w http.ResponseWriter, r *http.Request) {
	var req referenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.FileHash == "" || req.OriginalFilename == "" {
		writeError(w, apierr.E(apierr.ErrInvalidArgument, "file_hash and original_filename are required"))
		return
	}
	if req.FileType == "" {
		req.FileType = "application/octet-stream"
	}

	f, err := s.svc.ReferenceExisting(r.Context(), caller(r).UserID,
		req.FileHash, req.OriginalFilename, req.FileType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFileResponse(f))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	fl, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	files, err := s.svc.List(r.Context(), caller(r).UserID, fl)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]fileResponse, 0, len(files))
	for i := range files {
		out = append(out, newFileResponse(&files[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	f, history, err := s.svc.Get(r.Context(), caller(r).UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFileDetailResponse(f, history))
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.svc.Delete(r.Context(), caller(r).UserID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	f, plaintext, err := s.svc.Download(r.Context(), caller(r).UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", f.FileType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": f.OriginalFilename}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(plaintext); err != nil {
		// Headers are gone; nothing recoverable.
		return
	}
}

func fileID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apierr.E(apierr.ErrInvalidArgument, "invalid file id")
	}
	return id, nil
}

func filtersFromQuery(r *http.Request) (registry.Filters, error) {
	q := r.URL.Query()
	fl := registry.Filters{
		Filename: q.Get("filename"),
		FileType: q.Get("file_type"),
	}

	parseSize := func(name string) (*int64, error) {
		raw := q.Get(name)
		if raw == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return nil, apierr.E(apierr.ErrInvalidArgument, "%s must be a non-negative integer", name)
		}
		return &n, nil
	}
	parseDate := func(name string) (*time.Time, error) {
		raw := q.Get(name)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, apierr.E(apierr.ErrInvalidArgument, "%s must be a YYYY-MM-DD date", name)
		}
		return &t, nil
	}

	var err error
	if fl.MinSize, err = parseSize("size_min"); err != nil {
		return fl, err
	}
	if fl.MaxSize, err = parseSize("size_max"); err != nil {
		return fl, err
	}
	if fl.DateFrom, err = parseDate("date_from"); err != nil {
		return fl, err
	}
	if fl.DateTo, err = parseDate("date_to"); err != nil {
		return fl, err
	}
	return fl, nil
}
