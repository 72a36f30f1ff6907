// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/AleutianAI/datalens/pkg/ux"
)

const loginHint = "run `datalens login` to sign in"

// redirectError is returned when the guard sends a command to sign-in.
type redirectError struct {
	route    string
	location string
	expired  bool
}

func (e *redirectError) Error() string {
	if e.expired {
		return "session expired"
	}
	return "not signed in"
}

// credentialError marks failures of login and register, whose 401 means
// "wrong credentials" rather than "session expired".
type credentialError struct {
	err error
}

func (e *credentialError) Error() string { return e.err.Error() }
func (e *credentialError) Unwrap() error { return e.err }

// usageError is a bad invocation detected by the command itself.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// renderError prints err for a human (or to stderr in JSON mode).
//
// # Description
//
// Authorization failures render as an expired session with the login
// hint, replacing the backend's text. Credential failures show the
// backend's message. Every other apierr shows its message only; the
// kind and op go to the debug log.
func renderError(p *ux.Printer, err error) {
	var redirect *redirectError
	var cred *credentialError
	switch {
	case errors.As(err, &redirect):
		p.ErrorBox(redirect.Error(), loginHint)
	case errors.As(err, &cred):
		p.Error(messageOf(cred.err))
	case errors.Is(err, apierr.ErrAuthorization):
		p.ErrorBox("session expired", loginHint)
	case errors.Is(err, apierr.ErrNetwork):
		p.Error(apierr.MessageOf(err) + ": is the datalens API running?")
	case errors.Is(err, context.Canceled):
		p.Error("interrupted")
	default:
		p.Error(messageOf(err))
	}
}

func messageOf(err error) string {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apierr.MessageOf(err)
	}
	return err.Error()
}
