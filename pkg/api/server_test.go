// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/accesslog"
	"github.com/LeeDigitalWorks/vaultfs/pkg/api"
	"github.com/LeeDigitalWorks/vaultfs/pkg/blob"
	"github.com/LeeDigitalWorks/vaultfs/pkg/events"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"
	regmem "github.com/LeeDigitalWorks/vaultfs/pkg/registry/memory"
	"github.com/LeeDigitalWorks/vaultfs/pkg/rotation"
	"github.com/LeeDigitalWorks/vaultfs/pkg/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, quotaBytes int64) *httptest.Server {
	t.Helper()
	keys, err := keyring.NewService(keyring.NewMemoryRecordStore(), bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)

	files := regmem.NewStore()
	blobs := blob.NewMemoryStore()
	svc := registry.NewService(registry.Deps{
		Files:     files,
		Blobs:     blobs,
		Keys:      keys,
		Quota:     usage.NewTracker(usage.NewMemoryStore(), quotaBytes),
		Access:    accesslog.NewRecorder(accesslog.NewMemoryStore()),
		Publisher: events.NopPublisher{},
	})
	coord := rotation.NewCoordinator(rotation.Deps{
		Jobs:           rotation.NewMemoryJobStore(),
		Files:          files,
		Blobs:          blobs,
		Keys:           keys,
		Publisher:      events.NopPublisher{},
		FilesPerSecond: 10000,
	})
	t.Cleanup(coord.Close)

	srv := httptest.NewServer(api.NewServer(api.Config{
		Registry: svc,
		Keys:     keys,
		Rotation: coord,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doReq(t *testing.T, method, url, user string, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func uploadFile(t *testing.T, srv *httptest.Server, user, filename, fileType string, content []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if fileType != "" {
		require.NoError(t, mw.WriteField("file_type", fileType))
	}
	require.NoError(t, mw.Close())

	resp := doReq(t, http.MethodPost, srv.URL+"/api/files", user, mw.FormDataContentType(), &buf)
	var body map[string]any
	decodeBody(t, resp, &body)
	return resp.StatusCode, body
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	return body.Error.Code
}

func TestMissingIdentityRejected(t *testing.T) {
	srv := newTestServer(t, 1<<30)

	resp := doReq(t, http.MethodGet, srv.URL+"/api/files", "", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Forbidden", errorCode(t, resp))
}

func TestUploadAndDownload(t *testing.T) {
	srv := newTestServer(t, 1<<30)
	content := []byte("hello over http")

	status, body := uploadFile(t, srv, "alice", "greeting.txt", "text/plain", content)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "greeting.txt", body["original_filename"])
	assert.Equal(t, "text/plain", body["file_type"])
	assert.Equal(t, float64(len(content)), body["size_bytes"])
	assert.NotEmpty(t, body["file_hash"])
	assert.Contains(t, body["download_url"], "/download")

	resp := doReq(t, http.MethodGet, srv.URL+body["download_url"].(string), "alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "greeting.txt")
	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Another user cannot reach the file.
	resp = doReq(t, http.MethodGet, srv.URL+body["download_url"].(string), "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Forbidden", errorCode(t, resp))
}

func TestCheckHashAndReference(t *testing.T) {
	srv := newTestServer(t, 1<<30)
	content := []byte("dedup target")

	status, body := uploadFile(t, srv, "alice", "orig.txt", "text/plain", content)
	require.Equal(t, http.StatusCreated, status)
	hash := body["file_hash"].(string)

	resp := doReq(t, http.MethodGet, srv.URL+"/api/files/check_hash?hash="+hash, "alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var check map[string]bool
	decodeBody(t, resp, &check)
	assert.True(t, check["exists"])

	// Scoped to the caller.
	resp = doReq(t, http.MethodGet, srv.URL+"/api/files/check_hash?hash="+hash, "bob", "", nil)
	decodeBody(t, resp, &check)
	assert.False(t, check["exists"])

	refBody := fmt.Sprintf(`{"file_hash":%q,"original_filename":"copy.txt","file_type":"text/plain"}`, hash)
	resp = doReq(t, http.MethodPost, srv.URL+"/api/files/reference", "alice", "application/json",
		bytes.NewBufferString(refBody))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ref map[string]any
	decodeBody(t, resp, &ref)
	assert.Equal(t, "copy.txt", ref["original_filename"])
	assert.Equal(t, hash, ref["file_hash"])

	// Referencing content the caller does not store fails.
	resp = doReq(t, http.MethodPost, srv.URL+"/api/files/reference", "bob", "application/json",
		bytes.NewBufferString(refBody))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFound", errorCode(t, resp))
}

func TestListWithFilters(t *testing.T) {
	srv := newTestServer(t, 1<<30)

	status, _ := uploadFile(t, srv, "alice", "report.pdf", "application/pdf", []byte("pdf bytes"))
	require.Equal(t, http.StatusCreated, status)
	status, _ = uploadFile(t, srv, "alice", "photo.jpg", "image/jpeg", []byte("jpeg bytes here"))
	require.Equal(t, http.StatusCreated, status)

	resp := doReq(t, http.MethodGet, srv.URL+"/api/files", "alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files []map[string]any
	decodeBody(t, resp, &files)
	assert.Len(t, files, 2)

	resp = doReq(t, http.MethodGet, srv.URL+"/api/files?file_type=image/jpeg", "alice", "", nil)
	decodeBody(t, resp, &files)
	require.Len(t, files, 1)
	assert.Equal(t, "photo.jpg", files[0]["original_filename"])

	resp = doReq(t, http.MethodGet, srv.URL+"/api/files?size_min=bogus", "alice", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidArgument", errorCode(t, resp))
}

func TestGetIncludesAccessLogs(t *testing.T) {
	srv := newTestServer(t, 1<<30)

	status, body := uploadFile(t, srv, "alice", "hist.txt", "text/plain", []byte("with history"))
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)

	resp := doReq(t, http.MethodGet, srv.URL+"/api/files/"+id+"/download", "alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = doReq(t, http.MethodGet, srv.URL+"/api/files/"+id, "alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail struct {
		AccessLogs []map[string]any `json:"access_logs"`
	}
	decodeBody(t, resp, &detail)
	require.Len(t, detail.AccessLogs, 2)
	assert.Equal(t, "download", detail.AccessLogs[0]["action"])
	assert.Equal(t, "upload", detail.AccessLogs[1]["action"])
}

func TestDelete(t *testing.T) {
	srv := newTestServer(t, 1<<30)

	status, body := uploadFile(t, srv, "alice", "temp.txt", "text/plain", []byte("short lived"))
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)

	resp := doReq(t, http.MethodDelete, srv.URL+"/api/files/"+id, "alice", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doReq(t, http.MethodGet, srv.URL+"/api/files/"+id, "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFound", errorCode(t, resp))
}

func TestQuotaExceededOverHTTP(t *testing.T) {
	srv := newTestServer(t, 100)

	status, _ := uploadFile(t, srv, "alice", "big.bin", "application/octet-stream",
		bytes.Repeat([]byte{1}, 95))
	require.Equal(t, http.StatusCreated, status)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "more.bin")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{2}, 10))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := doReq(t, http.MethodPost, srv.URL+"/api/files", "alice", mw.FormDataContentType(), &buf)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "QuotaExceeded", errorCode(t, resp))
}

func TestProfileAndRotationFlow(t *testing.T) {
	srv := newTestServer(t, 1<<30)

	// Upload before any key exists.
	status, body := uploadFile(t, srv, "alice", "early.txt", "text/plain", []byte("pre-key content"))
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, false, body["is_encrypted"])
	fileID := body["id"].(string)

	// Set the initial key.
	resp := doReq(t, http.MethodPatch, srv.URL+"/api/auth/profile", "alice", "application/json",
		bytes.NewBufferString(`{"encryption_key":"hunter2"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile map[string]any
	decodeBody(t, resp, &profile)
	assert.Equal(t, true, profile["has_encryption_key"])
	assert.Equal(t, float64(1), profile["key_version"])

	// Setting it again conflicts.
	resp = doReq(t, http.MethodPatch, srv.URL+"/api/auth/profile", "alice", "application/json",
		bytes.NewBufferString(`{"encryption_key":"other"}`))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AlreadyHasKey", errorCode(t, resp))

	// Rotate: the pre-key file gets encrypted under v2.
	resp = doReq(t, http.MethodPost, srv.URL+"/api/auth/rotate-key", "alice", "application/json",
		bytes.NewBufferString(`{"old_encryption_key":"hunter2","new_encryption_key":"hunter3"}`))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var rot struct {
		JobID       string `json:"job_id"`
		FromVersion uint32 `json:"from_version"`
		ToVersion   uint32 `json:"to_version"`
		Pending     bool   `json:"pending"`
	}
	decodeBody(t, resp, &rot)
	assert.Equal(t, uint32(1), rot.FromVersion)
	assert.Equal(t, uint32(2), rot.ToVersion)
	assert.True(t, rot.Pending)

	var jobState string
	deadline := time.After(10 * time.Second)
	for jobState != "completed" {
		select {
		case <-deadline:
			t.Fatalf("rotation stuck in state %q", jobState)
		case <-time.After(10 * time.Millisecond):
		}
		resp = doReq(t, http.MethodGet, srv.URL+"/api/auth/rotate-key/"+rot.JobID, "alice", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var job map[string]any
		decodeBody(t, resp, &job)
		jobState = job["state"].(string)
	}

	// Wrong old key on the next rotation.
	resp = doReq(t, http.MethodPost, srv.URL+"/api/auth/rotate-key", "alice", "application/json",
		bytes.NewBufferString(`{"old_encryption_key":"wrong","new_encryption_key":"hunter4"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidOldKey", errorCode(t, resp))

	// The file is now encrypted and still downloads intact.
	resp = doReq(t, http.MethodGet, srv.URL+"/api/files/"+fileID, "alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail map[string]any
	decodeBody(t, resp, &detail)
	assert.Equal(t, true, detail["is_encrypted"])
	assert.Equal(t, float64(2), detail["key_version"])

	resp = doReq(t, http.MethodGet, srv.URL+"/api/files/"+fileID+"/download", "alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-key content"), got)
}

func TestStorageSnapshot(t *testing.T) {
	srv := newTestServer(t, 1<<30)

	status, _ := uploadFile(t, srv, "alice", "a.bin", "application/octet-stream",
		bytes.Repeat([]byte{1}, 2048))
	require.Equal(t, http.StatusCreated, status)

	resp := doReq(t, http.MethodGet, srv.URL+"/api/auth/storage", "alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap struct {
		UsedBytes    int64  `json:"used_bytes"`
		QuotaBytes   int64  `json:"quota_bytes"`
		UsedDisplay  string `json:"used_display"`
		QuotaDisplay string `json:"quota_display"`
	}
	decodeBody(t, resp, &snap)
	assert.Equal(t, int64(2048), snap.UsedBytes)
	assert.Equal(t, int64(1<<30), snap.QuotaBytes)
	assert.Equal(t, "2.0 KiB", snap.UsedDisplay)
	assert.Equal(t, "1.0 GiB", snap.QuotaDisplay)
}
