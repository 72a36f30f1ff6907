// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "secret"))
	assert.False(t, CheckPassword(hash, "Secret"))
}

func TestNewIssuer_RejectsBadConfig(t *testing.T) {
	_, err := NewIssuer(nil, time.Hour, nil)
	assert.Error(t, err)
	_, err = NewIssuer([]byte("k"), 0, nil)
	assert.Error(t, err)
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer([]byte("test-secret"), time.Hour, nil)
	require.NoError(t, err)

	token, err := issuer.Issue(42, "a@b.com")
	require.NoError(t, err)

	id, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestIssuer_ExpiredToken(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer, err := NewIssuer([]byte("test-secret"), time.Minute, clock)
	require.NoError(t, err)
	token, err := issuer.Issue(1, "a@b.com")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = issuer.Verify(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_RejectsForeignSecretAndAlgorithm(t *testing.T) {
	issuer, err := NewIssuer([]byte("test-secret"), time.Hour, nil)
	require.NoError(t, err)
	other, err := NewIssuer([]byte("other-secret"), time.Hour, nil)
	require.NoError(t, err)

	forged, err := other.Issue(1, "a@b.com")
	require.NoError(t, err)
	_, err = issuer.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRefreshToken_Unique(t *testing.T) {
	assert.NotEqual(t, NewRefreshToken(), NewRefreshToken())
}
