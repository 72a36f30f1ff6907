// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// LoginRequest is the body of POST /auth/login.
//
// Only presence is checked client-side; format rules belong to the
// backend.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// CreateMappingRequest is the body of POST /files/{id}/mapping.
type CreateMappingRequest struct {
	SourceColumn string `json:"sourceColumn" validate:"required"`
	TargetField  string `json:"targetField" validate:"required"`
}

// UpdateMappingRequest is the body of PUT /files/{id}/mapping/{mid}.
type UpdateMappingRequest struct {
	TargetField string `json:"targetField" validate:"required"`
}

// TopUpRequest is the body of POST /credits/add.
type TopUpRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}
