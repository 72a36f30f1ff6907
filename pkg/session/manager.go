// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the authentication state machine.
//
// The Manager is the only writer of session state and of the credential
// store. Other components observe it through Snapshot and Subscribe. The
// request gateway reports 401 responses through AuthExpired; the manager
// decides what that means.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/gateway"
	"github.com/AleutianAI/datalens/pkg/logging"
)

// ErrSuperseded is returned by Login, Register and RefreshToken when a
// later transition (typically Logout) happened while the call was in
// flight. The late result is dropped.
var ErrSuperseded = errors.New("session changed while the request was in flight")

// AuthAPI is the subset of the backend the session needs.
type AuthAPI interface {
	Login(ctx context.Context, req datatypes.LoginRequest) (datatypes.Tokens, error)
	Register(ctx context.Context, req datatypes.RegisterRequest) (datatypes.Tokens, error)
	Refresh(ctx context.Context, req datatypes.RefreshRequest) (datatypes.Tokens, error)
	Profile(ctx context.Context) (datatypes.User, error)
}

// CredentialStore persists tokens. *credstore.Store satisfies it.
type CredentialStore interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
	Save(tokens datatypes.Tokens) error
	Clear() error
}

// UnauthorizedSource reports 401 responses. *gateway.Gateway satisfies it.
type UnauthorizedSource interface {
	OnUnauthorized(fn gateway.UnauthorizedFunc) (remove func())
}

// Listener receives transitions. It runs synchronously on the goroutine
// that caused the transition and must not itself trigger one.
type Listener func(Transition)

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager is the session state machine.
//
// Thread Safety: safe for concurrent use. Transitions are delivered to
// subscribers in the order they happen.
type Manager struct {
	api    AuthAPI
	store  CredentialStore
	logger *logging.Logger
	now    func() time.Time

	// deliver serializes transition-plus-notification so subscribers
	// observe transitions in order.
	deliver sync.Mutex

	mu      sync.Mutex
	state   State
	user    *datatypes.User
	reason  string
	epoch   uint64
	started bool
	subs    []subscription
	nextSub uint64
}

type subscription struct {
	id uint64
	fn Listener
}

// New creates a Manager in StateUnknown.
func New(api AuthAPI, store CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		api:   api,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Watch subscribes AuthExpired to src's 401 notifications.
func (m *Manager) Watch(src UnauthorizedSource) (stop func()) {
	return src.OnUnauthorized(func(op string) {
		m.logger.Warn("backend rejected credentials", "op", op)
		m.AuthExpired()
	})
}

// =============================================================================
// Observation
// =============================================================================

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns the signed-in user, or nil.
func (m *Manager) User() *datatypes.User {
	return m.Snapshot().User
}

// Subscribe registers fn for every future transition.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscription{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state, Reason: m.reason}
	if m.user != nil {
		u := *m.user
		snap.User = &u
	}
	return snap
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start resolves the session left by a previous process.
//
// # Description
//
// With no stored token, or a JWT whose exp has passed, the session is
// Unauthenticated without a network call. Otherwise the identity is
// fetched: success gives Authenticated, any failure clears the store and
// gives Unauthenticated. Only the first call does work; later calls
// return the current state.
//
// # Outputs
//
//   - State: Authenticated or Unauthenticated on the first call
func (m *Manager) Start(ctx context.Context) State {
	m.mu.Lock()
	if m.started {
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.started = true
	m.mu.Unlock()

	token, ok := m.store.AccessToken()
	if !ok {
		m.transition(StateUnauthenticated, nil, ReasonNoSession)
		return StateUnauthenticated
	}
	if tokenExpired(token, m.now()) {
		m.logger.Info("stored token expired locally")
		m.signOut(StateUnauthenticated, ReasonSessionExpired)
		return StateUnauthenticated
	}

	epoch := m.transition(StateResuming, nil, "")
	user, err := m.api.Profile(ctx)
	if err != nil {
		m.fail(epoch, err)
		return m.State()
	}
	if !m.transitionIf(epoch, StateAuthenticated, &user, "") {
		return m.State()
	}
	return StateAuthenticated
}

// Login authenticates with email and password.
//
// # Description
//
// Empty fields fail with a validation error before any state change.
// Otherwise the state moves to Authenticating, the tokens are persisted,
// the identity is fetched and the state moves to Authenticated. Any
// failure leaves the session Unauthenticated with the backend's message
// and persists nothing from the attempt.
//
// # Outputs
//
//   - *datatypes.User: the signed-in identity
//   - error: *apierr.Error, or ErrSuperseded
func (m *Manager) Login(ctx context.Context, email, password string) (*datatypes.User, error) {
	req := datatypes.LoginRequest{Email: email, Password: password}
	if err := datatypes.Validate("session.login", req); err != nil {
		return nil, err
	}

	epoch := m.transition(StateAuthenticating, nil, "")
	tokens, err := m.api.Login(ctx, req)
	if err != nil {
		m.fail(epoch, err)
		return nil, err
	}
	return m.complete(ctx, epoch, tokens)
}

// Register creates an account and signs into it.
func (m *Manager) Register(ctx context.Context, email, password, name string) (*datatypes.User, error) {
	req := datatypes.RegisterRequest{Email: email, Password: password, Name: name}
	if err := datatypes.Validate("session.register", req); err != nil {
		return nil, err
	}

	epoch := m.transition(StateAuthenticating, nil, "")
	tokens, err := m.api.Register(ctx, req)
	if err != nil {
		m.fail(epoch, err)
		return nil, err
	}
	return m.complete(ctx, epoch, tokens)
}

// Logout clears both tokens and moves to Unauthenticated. It never
// touches the network. A store error is returned after the transition.
func (m *Manager) Logout() error {
	return m.signOut(StateUnauthenticated, ReasonLoggedOut)
}

// AuthExpired clears the store and moves to Expired from any state.
func (m *Manager) AuthExpired() {
	_ = m.signOut(StateExpired, ReasonSessionExpired)
}

// RefreshUser re-fetches the identity and replaces the user wholesale.
// Failure clears the store and signs out.
func (m *Manager) RefreshUser(ctx context.Context) (*datatypes.User, error) {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	user, err := m.api.Profile(ctx)
	if err != nil {
		m.fail(epoch, err)
		return nil, err
	}
	if !m.transitionIf(epoch, StateAuthenticated, &user, "") {
		return nil, ErrSuperseded
	}
	return &user, nil
}

// RefreshToken exchanges the stored refresh token for a new access token
// and re-fetches the identity. A refresh token that is not rotated by the
// backend is kept.
func (m *Manager) RefreshToken(ctx context.Context) (*datatypes.User, error) {
	refresh, ok := m.store.RefreshToken()
	if !ok {
		return nil, apierr.Validation("session.refresh", "no refresh token stored")
	}

	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	tokens, err := m.api.Refresh(ctx, datatypes.RefreshRequest{RefreshToken: refresh})
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refresh
	}
	return m.complete(ctx, epoch, tokens)
}

// =============================================================================
// Internals
// =============================================================================

// complete persists tokens and fetches the identity, unless epoch was
// superseded.
func (m *Manager) complete(ctx context.Context, epoch uint64, tokens datatypes.Tokens) (*datatypes.User, error) {
	if err := m.persist(epoch, tokens); err != nil {
		if !errors.Is(err, ErrSuperseded) {
			m.fail(epoch, err)
		}
		return nil, err
	}
	m.logger.Info("tokens stored", "refresh_token_present", tokens.RefreshToken != "")

	user, err := m.api.Profile(ctx)
	if err != nil {
		m.fail(epoch, err)
		return nil, err
	}
	if !m.transitionIf(epoch, StateAuthenticated, &user, "") {
		return nil, ErrSuperseded
	}
	return &user, nil
}

// persist saves tokens while holding the state lock. invalidate bumps
// the epoch and clears under the same lock, so a concurrent sign-out
// either runs first (and the save is skipped) or after (and clears what
// was saved).
func (m *Manager) persist(epoch uint64, tokens datatypes.Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return ErrSuperseded
	}
	if err := m.store.Save(tokens); err != nil {
		return apierr.New(apierr.KindUnknown, "session.persist", 0, "could not store credentials", err)
	}
	return nil
}

// fail signs out after a failed authentication step. A 401 from the step
// has already moved the session to Expired; that is still resolved to
// Unauthenticated here since the attempt itself failed. Any other
// intervening transition wins.
func (m *Manager) fail(epoch uint64, cause error) {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	if m.epoch != epoch && m.state != StateExpired {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.invalidate(); err != nil {
		m.logger.Error("clear credentials", "error", err)
	}
	m.applyLocked(StateUnauthenticated, nil, apierr.MessageOf(cause))
}

// signOut clears the store and moves to state. The transition happens
// even when clearing fails.
func (m *Manager) signOut(state State, reason string) error {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	err := m.invalidate()
	if err != nil {
		m.logger.Error("clear credentials", "error", err, "reason", reason)
	}
	m.applyLocked(state, nil, reason)
	return err
}

// invalidate supersedes every in-flight operation and clears the store
// in one critical section. Requires m.deliver to be held.
func (m *Manager) invalidate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	return m.store.Clear()
}

// transition unconditionally moves to state and returns the new epoch.
func (m *Manager) transition(state State, user *datatypes.User, reason string) uint64 {
	m.deliver.Lock()
	defer m.deliver.Unlock()
	return m.applyLocked(state, user, reason)
}

// transitionIf moves to state only if no other transition happened since
// epoch.
func (m *Manager) transitionIf(epoch uint64, state State, user *datatypes.User, reason string) bool {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	current := m.epoch == epoch
	m.mu.Unlock()
	if !current {
		m.logger.Debug("dropping superseded transition", "to", state.String())
		return false
	}
	m.applyLocked(state, user, reason)
	return true
}

// applyLocked requires m.deliver to be held.
func (m *Manager) applyLocked(state State, user *datatypes.User, reason string) uint64 {
	m.mu.Lock()
	from := m.state
	m.state = state
	m.user = user
	m.reason = reason
	m.epoch++
	epoch := m.epoch
	snap := m.snapshotLocked()
	subs := make([]Listener, len(m.subs))
	for i, s := range m.subs {
		subs[i] = s.fn
	}
	m.mu.Unlock()

	args := []any{"from", from.String(), "to", state.String()}
	if reason != "" {
		args = append(args, "reason", reason)
	}
	if user != nil {
		args = append(args, "user_id", user.ID)
	}
	m.logger.Info("session state changed", args...)

	t := Transition{From: from, To: snap}
	for _, fn := range subs {
		fn(t)
	}
	return epoch
}
