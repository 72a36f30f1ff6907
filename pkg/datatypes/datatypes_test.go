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

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Validation
// =============================================================================

func TestValidate_LoginRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     LoginRequest
		wantErr string
	}{
		{"valid", LoginRequest{Email: "a@b.com", Password: "secret"}, ""},
		{"missing email", LoginRequest{Password: "secret"}, "session.login: email is required"},
		{"missing password", LoginRequest{Email: "a@b.com"}, "session.login: password is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("session.login", tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
		})
	}
}

func TestValidate_TopUpRequest(t *testing.T) {
	assert.NoError(t, Validate("credits.topup", TopUpRequest{Amount: 5}))

	for _, amount := range []int64{0, -3} {
		err := Validate("credits.topup", TopUpRequest{Amount: amount})
		require.Error(t, err)
		assert.Equal(t, "amount must be greater than 0", apierr.MessageOf(err))
	}
}

func TestValidate_RegisterRequiresName(t *testing.T) {
	err := Validate("session.register", &RegisterRequest{Email: "a@b.com", Password: "pw"})
	require.Error(t, err)
	assert.Equal(t, "name is required", apierr.MessageOf(err))
}

// =============================================================================
// Timestamp
// =============================================================================

func TestTimestamp_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2024-05-01T10:00:00Z"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{`"2024-05-01T10:00:00.123"`, time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC)},
		{`"2024-05-01 10:00:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{`null`, time.Time{}},
		{`""`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.in), &ts))
			assert.True(t, tt.want.Equal(ts.Time), "got %v", ts.Time)
		})
	}
}

func TestTimestamp_UnmarshalRejectsGarbage(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`42`), &ts))
}

func TestUploadedFile_Decode(t *testing.T) {
	body := `[{"id":7,"fileName":"sales.csv","fileType":"text/csv","fileSize":2048,"uploadedAt":"2024-05-01T10:00:00"}]`

	var files []UploadedFile
	require.NoError(t, json.Unmarshal([]byte(body), &files))
	require.Len(t, files, 1)
	assert.Equal(t, int64(7), files[0].ID)
	assert.Equal(t, "sales.csv", files[0].FileName)
	assert.Equal(t, 2024, files[0].UploadedAt.Year())
}

func TestAnalysisResult_Decode(t *testing.T) {
	body := `{"row_count":3,"columns":["price"],"describe":{"price":{"mean":2.5,"top":null}},"data":[{"price":1}]}`

	var res AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, 2.5, res.Describe["price"]["mean"])
	assert.Len(t, res.Data, 1)
}

func TestCreditHistoryEntry_IsDebit(t *testing.T) {
	assert.True(t, CreditHistoryEntry{Amount: -1, Type: CreditTypeAnalysis}.IsDebit())
	assert.False(t, CreditHistoryEntry{Amount: 10, Type: CreditTypeTopUp}.IsDebit())
}
