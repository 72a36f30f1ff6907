// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard gates authenticated screens on the session state.
package guard

import (
	"context"
	"net/url"

	"github.com/AleutianAI/datalens/pkg/session"
)

// AuthPath is the sign-in screen. It is always public.
const AuthPath = "/auth"

// Decision is what to do with a navigation.
type Decision int

const (
	// Wait means the session is still being resolved.
	Wait Decision = iota
	// Render means the screen may be shown.
	Render
	// Redirect means the user must sign in first.
	Redirect
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Wait:
		return "wait"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "invalid"
	}
}

// Outcome is the result of checking one path.
type Outcome struct {
	Decision Decision

	// Location is set for Redirect: AuthPath with next=<path>, plus
	// reason=expired when the session expired rather than was never there.
	Location string

	// Expired distinguishes "session expired" from "not signed in".
	Expired bool
}

// SessionView is what the guard reads. *session.Manager satisfies it.
type SessionView interface {
	Snapshot() session.Snapshot
	Subscribe(fn session.Listener) (unsubscribe func())
}

// Guard decides navigations against a session.
type Guard struct {
	session SessionView
	public  map[string]bool
}

// New creates a Guard. AuthPath is always public; publicPaths adds more.
func New(s SessionView, publicPaths ...string) *Guard {
	public := map[string]bool{AuthPath: true}
	for _, p := range publicPaths {
		public[p] = true
	}
	return &Guard{session: s, public: public}
}

// Check decides path against the current session state.
func (g *Guard) Check(path string) Outcome {
	return g.decide(g.session.Snapshot(), path)
}

// Await blocks until path can be decided, or ctx is done.
//
// # Description
//
// Subscribes before reading the current state so a transition between
// the two cannot be missed. Returns immediately for public paths and for
// states that are already decided.
//
// # Outputs
//
//   - Outcome: Render or Redirect
//   - error: ctx.Err() when ctx ends first (the Outcome is then Wait)
func (g *Guard) Await(ctx context.Context, path string) (Outcome, error) {
	decided := make(chan session.Snapshot, 1)
	unsubscribe := g.session.Subscribe(func(t session.Transition) {
		if !t.To.State.Decided() {
			return
		}
		select {
		case decided <- t.To:
		default:
		}
	})
	defer unsubscribe()

	if out := g.Check(path); out.Decision != Wait {
		return out, nil
	}

	select {
	case snap := <-decided:
		return g.decide(snap, path), nil
	case <-ctx.Done():
		return Outcome{Decision: Wait}, ctx.Err()
	}
}

func (g *Guard) decide(snap session.Snapshot, path string) Outcome {
	if g.public[path] {
		return Outcome{Decision: Render}
	}
	switch snap.State {
	case session.StateAuthenticated:
		return Outcome{Decision: Render}
	case session.StateUnauthenticated, session.StateExpired:
		expired := snap.State == session.StateExpired
		return Outcome{Decision: Redirect, Location: authLocation(path, expired), Expired: expired}
	default:
		return Outcome{Decision: Wait}
	}
}

func authLocation(next string, expired bool) string {
	q := url.Values{}
	if next != "" {
		q.Set("next", next)
	}
	if expired {
		q.Set("reason", "expired")
	}
	if len(q) == 0 {
		return AuthPath
	}
	return AuthPath + "?" + q.Encode()
}
