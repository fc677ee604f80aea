// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package context

import (
	"context"

	"github.com/google/uuid"
)

const (
	RequestKey = "vaultfs-request-id"
)

type RequestID struct{}

func WithUUID(c context.Context) (context.Context, string) {
	if id := c.Value(RequestID{}); id != nil {
		return c, id.(string)
	}
	newID := uuid.New().String()
	c = context.WithValue(c, RequestID{}, newID)
	return c, newID
}

func FromUUID(c context.Context, reqID string) context.Context {
	return context.WithValue(c, RequestID{}, reqID)
}

// Caller identifies the authenticated user behind a request, plus the
// client details recorded in access history.
type Caller struct {
	UserID    string
	RemoteIP  string
	UserAgent string
}

type callerKey struct{}

func WithCaller(c context.Context, caller Caller) context.Context {
	return context.WithValue(c, callerKey{}, caller)
}

func CallerFrom(c context.Context) (Caller, bool) {
	caller, ok := c.Value(callerKey{}).(Caller)
	return caller, ok
}
