// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire types exchanged with the analysis
// backend and the client-side validation rules applied before a request
// is allowed onto the network.
package datatypes

// User is the identity snapshot returned by GET /user/me.
//
// A User is replaced wholesale on refresh and never mutated in place.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Tokens is the credential pair issued by login, register and refresh.
type Tokens struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// AuthResponse is the body of the /auth/* endpoints. Extra fields the
// backend may add are ignored.
type AuthResponse struct {
	Tokens
}

// UploadedFile is the metadata of a stored file.
type UploadedFile struct {
	ID         int64     `json:"id"`
	FileName   string    `json:"fileName"`
	FileType   string    `json:"fileType"`
	FileSize   int64     `json:"fileSize"`
	UploadedAt Timestamp `json:"uploadedAt"`
}

// FilePreview holds the column names and a handful of sample rows.
type FilePreview struct {
	Columns []string         `json:"columns"`
	Sample  []map[string]any `json:"sample"`
}

// ColumnMapping associates a source column of one file with a semantic
// target field used by the analysis engine.
type ColumnMapping struct {
	ID           int64  `json:"id"`
	SourceColumn string `json:"sourceColumn"`
	TargetField  string `json:"targetField"`
}

// AnalysisResult is the output of POST /ai/{id}/analyze.
//
// Describe maps column → statistic name → value. Values are numbers for
// numeric statistics and strings for categorical ones (e.g. "top").
type AnalysisResult struct {
	RowCount int                       `json:"row_count"`
	Columns  []string                  `json:"columns"`
	Describe map[string]map[string]any `json:"describe"`
	Data     []map[string]any          `json:"data"`
}

// CreditBalance is the body of GET /credits/my.
type CreditBalance struct {
	Balance int64 `json:"balance"`
}

// Credit history entry types known to the client. The backend may add
// others; unknown values are displayed verbatim.
const (
	CreditTypeAnalysis = "ANALYSIS"
	CreditTypeTopUp    = "TOPUP"
)

// CreditHistoryEntry is one ledger movement. Amount is negative for
// debits.
type CreditHistoryEntry struct {
	ID        int64     `json:"id"`
	Amount    int64     `json:"amount"`
	Type      string    `json:"type"`
	CreatedAt Timestamp `json:"createdAt"`
}

// IsDebit reports whether the entry removed credits.
func (e CreditHistoryEntry) IsDebit() bool {
	return e.Amount < 0
}
