// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"fmt"

	"github.com/AleutianAI/datalens/pkg/datatypes"
)

// State is the authentication state of the process.
//
//	Unknown         -> Resuming (Start, token stored) | Unauthenticated (Start, none)
//	Unknown         -> Authenticating (Login, Register)
//	Resuming        -> Authenticated | Unauthenticated
//	Authenticating  -> Authenticated | Unauthenticated
//	any             -> Expired (backend answered 401)
//	any             -> Unauthenticated (Logout)
type State int

const (
	StateUnknown State = iota
	StateResuming
	StateAuthenticating
	StateAuthenticated
	StateUnauthenticated
	StateExpired
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateResuming:
		return "resuming"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Decided reports whether s is terminal for the purpose of gating:
// Authenticated, Unauthenticated or Expired.
func (s State) Decided() bool {
	return s == StateAuthenticated || s == StateUnauthenticated || s == StateExpired
}

// Reasons attached to transitions into a signed-out state.
const (
	ReasonLoggedOut      = "logged out"
	ReasonSessionExpired = "session expired"
	ReasonNoSession      = "no stored session"
)

// Snapshot is an immutable view of the session.
type Snapshot struct {
	State State

	// User is non-nil exactly when State is StateAuthenticated.
	User *datatypes.User

	// Reason explains the most recent move into Unauthenticated or
	// Expired: a Reason constant or the backend's failure message.
	Reason string
}

// Authenticated reports whether the snapshot holds a signed-in user.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.User != nil
}

// String renders the state and, when signed in, the user's email.
func (s Snapshot) String() string {
	if s.User != nil {
		return fmt.Sprintf("%s (%s)", s.State, s.User.Email)
	}
	return s.State.String()
}

// Transition is delivered to subscribers after every state change.
type Transition struct {
	From State
	To   Snapshot
}
