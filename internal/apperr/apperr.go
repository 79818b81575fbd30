// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package apperr defines the error taxonomy shared across the Calyx core.
//
// Every error that crosses a component boundary carries a stable,
// machine-readable code. Callers branch on codes via errors.Is against
// the exported sentinels, never on message text:
//
//	if errors.Is(err, apperr.ErrNotFound) { ... }
//	if errors.Is(err, apperr.ErrCacheMiss) { ... trigger reconciliation ... }
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error class with a stable machine-readable value.
type Code string

const (
	// CodeValidation marks missing or malformed required input.
	// Always reported to the caller, never retried.
	CodeValidation Code = "VALIDATION"

	// CodeNotFound marks a referenced entity that does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeForbidden marks an authenticated caller lacking authorization
	// for the target resource.
	CodeForbidden Code = "FORBIDDEN"

	// CodeUnauthenticated marks a missing or invalid session.
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// CodeCacheMiss marks a counter store with no entry for the user.
	// Distinct from zero: it signals the counters were never initialized
	// and the caller should trigger reconciliation.
	CodeCacheMiss Code = "CACHE_MISS"

	// CodeBadCursor marks an opaque pagination cursor that failed to decode.
	CodeBadCursor Code = "BAD_CURSOR"

	// CodeInternal marks an unexpected downstream failure.
	CodeInternal Code = "INTERNAL"
)

// Sentinels for errors.Is matching. Each carries only a code; a concrete
// *Error matches the sentinel of the same code regardless of message.
var (
	ErrValidation      = &Error{code: CodeValidation}
	ErrNotFound        = &Error{code: CodeNotFound}
	ErrForbidden       = &Error{code: CodeForbidden}
	ErrUnauthenticated = &Error{code: CodeUnauthenticated}
	ErrCacheMiss       = &Error{code: CodeCacheMiss}
	ErrBadCursor       = &Error{code: CodeBadCursor}
	ErrInternal        = &Error{code: CodeInternal}
)

// Error is the concrete error type for all Calyx core errors.
type Error struct {
	code  Code
	msg   string
	field string
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.field != "" && e.msg != "":
		return fmt.Sprintf("%s: %s (field %q)", e.code, e.msg, e.field)
	case e.msg != "":
		return fmt.Sprintf("%s: %s", e.code, e.msg)
	default:
		return string(e.code)
	}
}

// Code returns the stable machine-readable code.
func (e *Error) Code() Code { return e.code }

// Field returns the offending input field for validation errors,
// empty otherwise.
func (e *Error) Field() string { return e.field }

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same code, enabling errors.Is against
// the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.code == t.code
}

// Validation returns a VALIDATION error naming the missing or malformed field.
func Validation(field, msg string) *Error {
	return &Error{code: CodeValidation, msg: msg, field: field}
}

// NotFound returns a NOT_FOUND error for the named entity.
func NotFound(entity, id string) *Error {
	return &Error{code: CodeNotFound, msg: fmt.Sprintf("%s %s not found", entity, id)}
}

// Forbidden returns a FORBIDDEN error.
func Forbidden(msg string) *Error {
	return &Error{code: CodeForbidden, msg: msg}
}

// Unauthenticated returns an UNAUTHENTICATED error.
func Unauthenticated(msg string) *Error {
	return &Error{code: CodeUnauthenticated, msg: msg}
}

// CacheMiss returns a CACHE_MISS error for a counter store with no
// entry for the given user.
func CacheMiss(userID string) *Error {
	return &Error{code: CodeCacheMiss, msg: fmt.Sprintf("no counter entry for user %s", userID)}
}

// BadCursor returns a BAD_CURSOR error wrapping the decode failure.
func BadCursor(cause error) *Error {
	return &Error{code: CodeBadCursor, msg: "invalid pagination cursor", cause: cause}
}

// Internal returns an INTERNAL error wrapping an unexpected downstream failure.
func Internal(msg string, cause error) *Error {
	return &Error{code: CodeInternal, msg: msg, cause: cause}
}

// CodeOf extracts the code from err, or CodeInternal when err is not a
// taxonomy error. Returns an empty code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}
