// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package credstore persists the session's bearer credentials.
//
// The store holds exactly two keys, KeyAccessToken and KeyRefreshToken,
// and interprets neither. Absence of the access token is the definition
// of "no session". Writes go to a durable Backend; reads are served from
// memguard enclaves so the hot path of every outbound request never
// touches disk and plaintext tokens are not left in ordinary heap memory.
package credstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/awnumar/memguard"
)

// Persisted key names.
const (
	KeyAccessToken  = "token"
	KeyRefreshToken = "refreshToken"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("credential store is closed")

// Store is the process-wide credential store.
//
// Thread Safety: safe for concurrent use. Reads take a shared lock.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	logger  *logging.Logger
	access  *memguard.Enclave
	refresh *memguard.Enclave
	closed  bool
}

// Open loads any persisted tokens from backend and returns a Store that
// owns it.
//
// # Inputs
//
//   - backend: durable persistence; closed by Store.Close
//   - logger: may be nil
//
// # Outputs
//
//   - *Store: ready for use
//   - error: non-nil if the backend could not be read
func Open(backend Backend, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Store{backend: backend, logger: logger.With("component", "credstore")}

	access, _, err := backend.Get(KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("load access token: %w", err)
	}
	refresh, _, err := backend.Get(KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	s.access = seal(access)
	s.refresh = seal(refresh)

	s.logger.Debug("credentials loaded",
		"token_present", access != "",
		"refresh_token_present", refresh != "")
	return s, nil
}

// AccessToken returns the stored access token.
func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unseal(s.access)
}

// RefreshToken returns the stored refresh token.
func (s *Store) RefreshToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unseal(s.refresh)
}

// HasSession reports whether an access token is stored.
func (s *Store) HasSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access != nil
}

// Save persists a token pair.
//
// # Description
//
// Writes the access token, then either writes the refresh token or, when
// none was issued, removes a previously stored one so a stale refresh
// token never outlives the session it belonged to. The in-memory cache is
// only updated once the backend accepted both writes.
//
// # Outputs
//
//   - error: ErrClosed, an empty access token, or a backend failure
func (s *Store) Save(tokens datatypes.Tokens) error {
	if tokens.AccessToken == "" {
		return errors.New("access token is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.backend.Set(KeyAccessToken, tokens.AccessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if tokens.RefreshToken != "" {
		if err := s.backend.Set(KeyRefreshToken, tokens.RefreshToken); err != nil {
			return fmt.Errorf("persist refresh token: %w", err)
		}
	} else if err := s.backend.Delete(KeyRefreshToken); err != nil {
		return fmt.Errorf("remove stale refresh token: %w", err)
	}

	s.access = seal(tokens.AccessToken)
	s.refresh = seal(tokens.RefreshToken)
	s.logger.Debug("credentials saved", "refresh_token_present", tokens.RefreshToken != "")
	return nil
}

// Clear removes both tokens.
//
// The in-memory cache is always emptied, even when the backend fails, so
// the process stops sending the old credentials either way. The backend
// error is still returned for the caller to log.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = nil
	s.refresh = nil
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.Delete(KeyAccessToken, KeyRefreshToken); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	s.logger.Debug("credentials cleared")
	return nil
}

// Close releases the backend. Cached tokens remain readable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

func seal(value string) *memguard.Enclave {
	if value == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(value))
}

func unseal(e *memguard.Enclave) (string, bool) {
	if e == nil {
		return "", false
	}
	buf, err := e.Open()
	if err != nil {
		return "", false
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true
}
