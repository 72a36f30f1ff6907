// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the development backend.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	RequireAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► verifier.Verify(token)
//	   │
//	   └─► Store the user ID in context
//	           │
//	           ▼
//	       Handler (retrieves via UserID)
//
// Any failure answers 401 {"message": "Unauthorized"} and stops the chain.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// userIDKey is the context key for the authenticated user ID.
const userIDKey = "datalens_user_id"

// Verifier validates an access token and returns its user ID.
// *auth.Issuer satisfies it.
type Verifier interface {
	Verify(token string) (int64, error)
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetUserID stores the authenticated user ID in the Gin context.
func SetUserID(c *gin.Context, id int64) {
	c.Set(userIDKey, id)
}

// UserID returns the authenticated user ID, or 0 when the request did
// not pass through RequireAuth.
func UserID(c *gin.Context) int64 {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// =============================================================================
// Auth Middleware
// =============================================================================

// RequireAuth rejects requests without a valid bearer token.
//
// # Inputs
//
//   - verifier: token validator. Must not be nil.
//
// # Thread Safety
//
// Thread-safe if verifier.Verify is.
func RequireAuth(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
			return
		}
		id, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
			return
		}
		SetUserID(c, id)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The scheme
// is case-insensitive per RFC 7235. Returns "" when missing or malformed.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
