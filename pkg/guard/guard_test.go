// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/datalens/pkg/credstore"
	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession is a SessionView driven by the test.
type fakeSession struct {
	mu   sync.Mutex
	snap session.Snapshot
	subs []session.Listener
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Subscribe(fn session.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeSession) set(state session.State) {
	f.mu.Lock()
	from := f.snap.State
	f.snap = session.Snapshot{State: state}
	if state == session.StateAuthenticated {
		f.snap.User = &datatypes.User{ID: 1}
	}
	subs := append([]session.Listener(nil), f.subs...)
	snap := f.snap
	f.mu.Unlock()
	for _, fn := range subs {
		fn(session.Transition{From: from, To: snap})
	}
}

func TestCheck_DecisionPerState(t *testing.T) {
	tests := []struct {
		state session.State
		want  Decision
	}{
		{session.StateUnknown, Wait},
		{session.StateResuming, Wait},
		{session.StateAuthenticating, Wait},
		{session.StateAuthenticated, Render},
		{session.StateUnauthenticated, Redirect},
		{session.StateExpired, Redirect},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			s := &fakeSession{}
			s.set(tt.state)
			assert.Equal(t, tt.want, New(s).Check("/files").Decision)
		})
	}
}

func TestCheck_PublicPathsAlwaysRender(t *testing.T) {
	s := &fakeSession{}
	g := New(s, "/help")

	assert.Equal(t, Render, g.Check(AuthPath).Decision)
	assert.Equal(t, Render, g.Check("/help").Decision)
	s.set(session.StateExpired)
	assert.Equal(t, Render, g.Check(AuthPath).Decision)
}

func TestCheck_RedirectLocation(t *testing.T) {
	s := &fakeSession{}
	g := New(s)

	s.set(session.StateUnauthenticated)
	out := g.Check("/files/42")
	assert.Equal(t, "/auth?next=%2Ffiles%2F42", out.Location)
	assert.False(t, out.Expired)

	s.set(session.StateExpired)
	out = g.Check("/files/42")
	assert.Equal(t, "/auth?next=%2Ffiles%2F42&reason=expired", out.Location)
	assert.True(t, out.Expired)

	assert.Equal(t, "/auth?reason=expired", authLocation("", true))
	assert.Equal(t, AuthPath, authLocation("", false))
}

func TestAwait_ReturnsOnceDecided(t *testing.T) {
	s := &fakeSession{}
	g := New(s)

	done := make(chan Outcome, 1)
	go func() {
		out, err := g.Await(context.Background(), "/credits")
		assert.NoError(t, err)
		done <- out
	}()

	// Give Await time to subscribe, then resolve via an undecided state
	// first; only the decided one may release it.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subs) == 1
	}, time.Second, time.Millisecond)
	s.set(session.StateResuming)
	s.set(session.StateAuthenticated)

	select {
	case out := <-done:
		assert.Equal(t, Render, out.Decision)
	case <-time.After(5 * time.Second):
		t.Fatal("Await did not return")
	}
}

func TestAwait_ContextCancelled(t *testing.T) {
	g := New(&fakeSession{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out, err := g.Await(ctx, "/files")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Wait, out.Decision)
}

// staticProfile is a session.AuthAPI that only answers Profile.
type staticProfile struct{}

func (staticProfile) Login(context.Context, datatypes.LoginRequest) (datatypes.Tokens, error) {
	return datatypes.Tokens{}, nil
}
func (staticProfile) Register(context.Context, datatypes.RegisterRequest) (datatypes.Tokens, error) {
	return datatypes.Tokens{}, nil
}
func (staticProfile) Refresh(context.Context, datatypes.RefreshRequest) (datatypes.Tokens, error) {
	return datatypes.Tokens{}, nil
}
func (staticProfile) Profile(context.Context) (datatypes.User, error) {
	return datatypes.User{ID: 1, Email: "a@b.com", Name: "A"}, nil
}

func TestGuard_ExpiryRedirectsAwayFromFile(t *testing.T) {
	store, err := credstore.Open(credstore.NewMemoryBackend(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(datatypes.Tokens{AccessToken: "tok1"}))
	m := session.New(staticProfile{}, store)
	g := New(m)
	assert.Equal(t, Wait, g.Check("/files/42").Decision)

	awaited := make(chan Outcome, 1)
	go func() {
		out, _ := g.Await(context.Background(), "/files/42")
		awaited <- out
	}()
	require.Equal(t, session.StateAuthenticated, m.Start(context.Background()))
	select {
	case out := <-awaited:
		assert.Equal(t, Render, out.Decision)
	case <-time.After(5 * time.Second):
		t.Fatal("Await did not observe the resumed session")
	}

	m.AuthExpired()

	out := g.Check("/files/42")
	assert.Equal(t, Redirect, out.Decision)
	assert.True(t, out.Expired)
	assert.Equal(t, "/auth?next=%2Ffiles%2F42&reason=expired", out.Location)
}
