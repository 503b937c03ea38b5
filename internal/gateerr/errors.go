// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package gateerr defines the error taxonomy shared by the gate components.
//
// Request-facing kinds map to an HTTP status and a stable machine-readable
// code. Callers branch on the kind with errors.Is or errors.As, never on the
// message text.
package gateerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gate error.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimitExceeded
	KindCSRFValidationFailed
	KindOriginRejected
	KindUnauthenticated
	KindForbidden
	KindSignatureInvalid
	KindAuditWriteFailed
	KindConfiguration
)

var kindCodes = map[Kind]string{
	KindUnknown:              "INTERNAL_ERROR",
	KindRateLimitExceeded:    "RATE_LIMITED",
	KindCSRFValidationFailed: "CSRF_REJECTED",
	KindOriginRejected:       "ORIGIN_REJECTED",
	KindUnauthenticated:      "UNAUTHENTICATED",
	KindForbidden:            "FORBIDDEN",
	KindSignatureInvalid:     "SIGNATURE_INVALID",
	KindAuditWriteFailed:     "AUDIT_WRITE_FAILED",
	KindConfiguration:        "CONFIGURATION_ERROR",
}

var kindMessages = map[Kind]string{
	KindUnknown:              "Internal error",
	KindRateLimitExceeded:    "Too many requests, retry later",
	KindCSRFValidationFailed: "Request could not be verified",
	KindOriginRejected:       "Request origin is not allowed",
	KindUnauthenticated:      "Authentication required",
	KindForbidden:            "Insufficient permissions",
	KindSignatureInvalid:     "Request signature is missing or invalid",
	KindAuditWriteFailed:     "Audit write failed",
	KindConfiguration:        "Invalid configuration",
}

// Code returns the stable machine-readable code for the kind.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindUnknown]
}

// Message returns the public, non-revealing message for the kind.
func (k Kind) Message() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return kindMessages[KindUnknown]
}

// Status returns the HTTP status code a request-facing kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindCSRFValidationFailed, KindOriginRejected, KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindSignatureInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RequestFacing reports whether the kind is ever written to a response.
func (k Kind) RequestFacing() bool {
	switch k {
	case KindRateLimitExceeded, KindCSRFValidationFailed, KindOriginRejected,
		KindUnauthenticated, KindForbidden, KindSignatureInvalid:
		return true
	}
	return false
}

func (k Kind) String() string {
	return k.Code()
}

// Error is a classified gate error.
type Error struct {
	Kind Kind

	// Detail is internal context for logs. It is never sent to clients.
	Detail string

	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.Code()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrRateLimitExceeded    = &Error{Kind: KindRateLimitExceeded}
	ErrCSRFValidationFailed = &Error{Kind: KindCSRFValidationFailed}
	ErrOriginRejected       = &Error{Kind: KindOriginRejected}
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrSignatureInvalid     = &Error{Kind: KindSignatureInvalid}
	ErrAuditWriteFailed     = &Error{Kind: KindAuditWriteFailed}
	ErrConfiguration        = &Error{Kind: KindConfiguration}
)

// New creates an Error of the given kind with an internal detail message.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Configf builds a ConfigurationError.
func Configf(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}
