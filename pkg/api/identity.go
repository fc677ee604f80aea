// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net"
	"net/http"

	"github.com/LeeDigitalWorks/vaultfs/pkg/apierr"
)

// IdentityFunc resolves the authenticated user behind a request.
// Authentication itself lives in front of this server; the store trusts
// whatever the resolver reports.
type IdentityFunc func(r *http.Request) (string, error)

// HeaderIdentity resolves the user from the X-User-ID header set by the
// authenticating proxy.
func HeaderIdentity(r *http.Request) (string, error) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return "", apierr.E(apierr.ErrForbidden, "missing caller identity")
	}
	return userID, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
