// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apierr defines the error taxonomy shared by every datalens layer.
//
// Every failure that leaves the core carries a Kind so the presentation
// layer can decide what to show without inspecting transport details:
//
//	err := ledger.TopUp(ctx, 0)
//	if apierr.KindOf(err) == apierr.KindValidation {
//	    // never reached the network
//	}
//
//	if errors.Is(err, apierr.ErrAuthorization) {
//	    // session has already been expired by the session manager
//	}
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Kind
// =============================================================================

// Kind categorizes a failure for programmatic handling.
type Kind int

const (
	// KindUnknown covers unexpected shapes: 5xx without a usable body,
	// undecodable responses, and errors from outside this package.
	KindUnknown Kind = iota

	// KindValidation is a client-side precondition failure. It never
	// reaches the network.
	KindValidation

	// KindAuthorization means the backend rejected the credential (401).
	KindAuthorization

	// KindNotFound means the addressed resource does not exist (404).
	KindNotFound

	// KindBusiness covers conflicts and domain rejections such as
	// insufficient credit.
	KindBusiness

	// KindNetwork means no response was received.
	KindNetwork
)

// String returns the kind as an upper-case label for logs and output.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindAuthorization:
		return "AUTHORIZATION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindBusiness:
		return "BUSINESS"
	case KindNetwork:
		return "NETWORK"
	default:
		return "UNKNOWN"
	}
}

// KindForStatus maps an HTTP status code onto the taxonomy.
//
// # Description
//
// 401 is the only status treated as an authorization failure; 403 means
// the credential was accepted but the action refused, so it is a business
// rejection. Every other 4xx is a business rejection and 5xx is unknown.
//
// # Inputs
//
//   - status: HTTP status code of a non-2xx response
//
// # Outputs
//
//   - Kind: the category for the status
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindBusiness
	default:
		return KindUnknown
	}
}

// =============================================================================
// Error
// =============================================================================

// Error is the normalized failure type.
//
// Error is immutable after creation and safe for concurrent reads.
type Error struct {
	// Kind categorizes the failure.
	Kind Kind

	// Op names the operation that failed, e.g. "files.preview".
	Op string

	// Status is the HTTP status code, or 0 when no response was received.
	Status int

	// Message is the human-readable description, preferably the
	// backend-provided message.
	Message string

	// Err is the underlying cause (may be nil).
	Err error
}

// Error returns "op: message", falling back to the kind when no message
// is available.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		if e.Err != nil {
			msg = e.Err.Error()
		} else {
			msg = defaultMessage(e.Kind)
		}
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
//
// A sentinel without a message matches any error of its kind; a sentinel
// with a message matches only errors carrying that exact message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

var _ error = (*Error)(nil)

// Kind sentinels for errors.Is.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrBusiness      = &Error{Kind: KindBusiness}
	ErrNetwork       = &Error{Kind: KindNetwork}
	ErrUnknown       = &Error{Kind: KindUnknown}
)

// =============================================================================
// Constructors
// =============================================================================

// New creates an Error with full context.
func New(kind Kind, op string, status int, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Status:  status,
		Message: message,
		Err:     cause,
	}
}

// Validation creates a client-side precondition failure.
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Network wraps a transport failure.
func Network(op string, cause error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Op:      op,
		Message: "backend unreachable",
		Err:     cause,
	}
}

// FromStatus creates an Error for a non-2xx response.
//
// An empty message is replaced by a default for the kind so the caller
// always has something to display.
func FromStatus(op string, status int, message string) *Error {
	kind := KindForStatus(status)
	if message == "" {
		message = defaultMessage(kind)
	}
	return &Error{Kind: kind, Op: op, Status: status, Message: message}
}

// =============================================================================
// Inspection
// =============================================================================

// KindOf returns the Kind of the first *Error in err's chain.
//
// Errors from outside this package report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf returns the display message of err.
//
// For an *Error in the chain this is its Message (without the op prefix);
// otherwise err.Error(). Returns "" for a nil error.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return defaultMessage(e.Kind)
	}
	return err.Error()
}

func defaultMessage(kind Kind) string {
	switch kind {
	case KindValidation:
		return "invalid input"
	case KindAuthorization:
		return "session expired"
	case KindNotFound:
		return "not found"
	case KindBusiness:
		return "request rejected"
	case KindNetwork:
		return "backend unreachable"
	default:
		return "unexpected error"
	}
}
