// Package apperr defines the stable error taxonomy surfaced to callers.
// Internal errors are classified into one of these codes at the component
// boundary; raw messages never leave the engine unredacted.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable error code. Codes are part of the public API contract
// and must never change.
type Code string

const (
	CodeInvalidArgument Code = "E_INVALID_ARGUMENT"
	CodeAuthRequired    Code = "E_AUTH_REQUIRED"
	CodeForbidden       Code = "E_FORBIDDEN"
	CodeNotFound        Code = "E_NOT_FOUND"
	CodeConflict        Code = "E_CONFLICT"
	CodeQuotaExceeded   Code = "E_QUOTA_EXCEEDED"
	CodeExpired         Code = "E_EXPIRED"
	CodeRevoked         Code = "E_REVOKED"
	CodeUnavailable     Code = "E_UNAVAILABLE"
	CodeTimeout         Code = "E_TIMEOUT"
	CodeInternal        Code = "E_INTERNAL"
)

// Error carries a taxonomy code and a caller-safe message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// New creates a typed error with a pre-redacted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: Redact(fmt.Sprintf(format, args...))}
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

func AuthRequired(format string, args ...any) *Error {
	return New(CodeAuthRequired, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(CodeForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

func QuotaExceeded(format string, args ...any) *Error {
	return New(CodeQuotaExceeded, format, args...)
}

func Expired(format string, args ...any) *Error {
	return New(CodeExpired, format, args...)
}

func Revoked(format string, args ...any) *Error {
	return New(CodeRevoked, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return New(CodeUnavailable, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(CodeInternal, format, args...)
}

// CodeOf returns the taxonomy code for err. Typed errors keep their code;
// anything else is classified from its message content.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return classify(err.Error())
}

// Classify converts an arbitrary error into a typed, redacted Error. Typed
// errors pass through unchanged.
func Classify(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	msg := Redact(err.Error())
	return &Error{Code: classify(msg), Message: msg}
}

// classify maps message content onto the nearest taxonomy code. The match
// order mirrors specificity: auth before forbidden, conflict before invalid.
func classify(msg string) Code {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "is required for") || strings.Contains(m, "authentication"):
		return CodeAuthRequired
	case strings.Contains(m, "access denied"), strings.Contains(m, "forbidden"),
		strings.Contains(m, "not allowed"), strings.Contains(m, "does not match"),
		strings.Contains(m, "mismatch"):
		return CodeForbidden
	case strings.Contains(m, "not found"):
		return CodeNotFound
	case strings.Contains(m, "expired"):
		return CodeExpired
	case strings.Contains(m, "revoked"):
		return CodeRevoked
	case strings.Contains(m, "conflict"), strings.Contains(m, "already"),
		strings.Contains(m, "not published"), strings.Contains(m, "transition"):
		return CodeConflict
	case strings.Contains(m, "quota"), strings.Contains(m, "limit exceeded"):
		return CodeQuotaExceeded
	case strings.Contains(m, "invalid"), strings.Contains(m, "must"),
		strings.Contains(m, "required"), strings.Contains(m, "missing"),
		strings.Contains(m, "exceeds"):
		return CodeInvalidArgument
	case strings.Contains(m, "timeout"), strings.Contains(m, "deadline exceeded"):
		return CodeTimeout
	case strings.Contains(m, "unavailable"), strings.Contains(m, "unreachable"),
		strings.Contains(m, "connection refused"):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
