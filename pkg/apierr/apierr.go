// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package apierr defines the closed error taxonomy for the file store.
// Every failure that crosses a component boundary is tagged with a Kind;
// the HTTP layer maps kinds to status codes and a structured JSON body.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrKind is an enumeration of error kinds.
type ErrKind int

const (
	ErrNone ErrKind = iota

	// Lookup and ownership
	ErrNotFound
	ErrForbidden

	// Idempotency guards
	ErrAlreadyExists
	ErrAlreadyHasKey

	// Key management
	ErrNoExistingKey
	ErrInvalidOldKey
	ErrKeyVersionUnavailable
	ErrRotationInProgress

	// Accounting
	ErrQuotaExceeded
	ErrEntityTooLarge

	// Requests
	ErrInvalidArgument

	// Rotation job level, non-fatal
	ErrPartialFailure

	ErrInternal
)

type kindInfo struct {
	Code           string
	HTTPStatusCode int
}

var kinds = map[ErrKind]kindInfo{
	ErrNotFound:              {"NotFound", http.StatusNotFound},
	ErrForbidden:             {"Forbidden", http.StatusForbidden},
	ErrAlreadyExists:         {"AlreadyExists", http.StatusConflict},
	ErrAlreadyHasKey:         {"AlreadyHasKey", http.StatusConflict},
	ErrNoExistingKey:         {"NoExistingKey", http.StatusConflict},
	ErrInvalidOldKey:         {"InvalidOldKey", http.StatusBadRequest},
	ErrKeyVersionUnavailable: {"KeyVersionUnavailable", http.StatusConflict},
	ErrRotationInProgress:    {"RotationInProgress", http.StatusConflict},
	ErrQuotaExceeded:         {"QuotaExceeded", http.StatusBadRequest},
	ErrEntityTooLarge:        {"EntityTooLarge", http.StatusRequestEntityTooLarge},
	ErrInvalidArgument:       {"InvalidArgument", http.StatusBadRequest},
	ErrPartialFailure:        {"PartialFailure", http.StatusOK},
	ErrInternal:              {"InternalError", http.StatusInternalServerError},
}

// Error is a tagged error carrying a Kind and a human message.
type Error struct {
	ErrKind ErrKind
	Message string
	wrapped error
}

func (e *Error) Error() string {
	info, ok := kinds[e.ErrKind]
	if !ok {
		return e.Message
	}
	return info.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// Code returns the wire error code for the kind.
func (e *Error) Code() string {
	if info, ok := kinds[e.ErrKind]; ok {
		return info.Code
	}
	return "InternalError"
}

// HTTPStatus returns the HTTP status the kind maps to.
func (e *Error) HTTPStatus() int {
	if info, ok := kinds[e.ErrKind]; ok {
		return info.HTTPStatusCode
	}
	return http.StatusInternalServerError
}

// E constructs a tagged error.
func E(kind ErrKind, format string, args ...any) error {
	return &Error{ErrKind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind, preserving the chain.
func Wrap(kind ErrKind, err error, format string, args ...any) error {
	return &Error{ErrKind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// Kind extracts the kind from an error chain. Untagged errors are ErrInternal,
// nil is ErrNone.
func Kind(err error) ErrKind {
	if err == nil {
		return ErrNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ErrKind
	}
	return ErrInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind ErrKind) bool {
	return Kind(err) == kind
}

// HTTPStatus maps any error to an HTTP status code.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// CodeOf maps any error to its wire error code.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return "InternalError"
}
