// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the file store over HTTP. Routing uses the
// standard mux with method patterns; errors map to the wire taxonomy.
package api

import (
	"net/http"
	"time"

	vfctx "github.com/LeeDigitalWorks/vaultfs/pkg/context"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring"
	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"
	"github.com/LeeDigitalWorks/vaultfs/pkg/rotation"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config wires the server's collaborators.
type Config struct {
	Registry *registry.Service
	Keys     keyring.Keyring
	Rotation *rotation.Coordinator

	// Identify resolves the caller. Defaults to HeaderIdentity.
	Identify IdentityFunc
}

// Server is the HTTP front of the file store.
type Server struct {
	svc      *registry.Service
	keys     keyring.Keyring
	coord    *rotation.Coordinator
	identify IdentityFunc
	handler  http.Handler
}

// NewServer creates the HTTP server.
func NewServer(cfg Config) *Server {
	s := &Server{
		svc:      cfg.Registry,
		keys:     cfg.Keys,
		coord:    cfg.Rotation,
		identify: cfg.Identify,
	}
	if s.identify == nil {
		s.identify = HeaderIdentity
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files/check_hash", s.checkHash)
	mux.HandleFunc("POST /api/files", s.upload)
	mux.HandleFunc("POST /api/files/reference", s.reference)
	mux.HandleFunc("GET /api/files", s.list)
	mux.HandleFunc("GET /api/files/{id}", s.get)
	mux.HandleFunc("DELETE /api/files/{id}", s.delete)
	mux.HandleFunc("GET /api/files/{id}/download", s.download)

	mux.HandleFunc("PATCH /api/auth/profile", s.patchProfile)
	mux.HandleFunc("POST /api/auth/rotate-key", s.rotateKey)
	mux.HandleFunc("GET /api/auth/rotate-key/{job_id}", s.rotationStatus)
	mux.HandleFunc("DELETE /api/auth/rotate-key/{job_id}", s.cancelRotation)
	mux.HandleFunc("GET /api/auth/storage", s.storage)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.handler = instrument(s.withCaller(mux))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// withCaller resolves the caller identity and stashes it, with the
// client details, in the request context. Unauthenticated probes still
// reach /metrics and /healthz.
func (s *Server) withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, reqID := vfctx.WithUUID(r.Context())
		w.Header().Set("X-Request-ID", reqID)

		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		start := time.Now()
		userID, err := s.identify(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx = vfctx.WithCaller(ctx, vfctx.Caller{
			UserID:    userID,
			RemoteIP:  clientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))

		logger.Debug().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("user", userID).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

// caller returns the identity stashed by withCaller.
func caller(r *http.Request) vfctx.Caller {
	c, _ := vfctx.CallerFrom(r.Context())
	return c
}
