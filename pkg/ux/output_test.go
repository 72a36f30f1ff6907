// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrinter(mode Mode) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut, mode), &out, &errOut
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestParseOutput(t *testing.T) {
	var buf bytes.Buffer

	mode, err := ParseOutput("text", &buf)
	require.NoError(t, err)
	assert.Equal(t, ModePlain, mode, "a buffer is never a terminal")

	mode, err = ParseOutput("JSON", &buf)
	require.NoError(t, err)
	assert.Equal(t, ModeJSON, mode)

	_, err = ParseOutput("yaml", &buf)
	assert.Error(t, err)
}

func TestNewPrinter_Defaults(t *testing.T) {
	p := NewPrinter(nil, nil, "")
	assert.Equal(t, ModePlain, p.Mode())
	assert.NotNil(t, p.Out())
}

// =============================================================================
// Message Tests
// =============================================================================

func TestPrinter_PlainMessages(t *testing.T) {
	p, out, errOut := newTestPrinter(ModePlain)

	p.Title("Files")
	p.Success("uploaded")
	p.Info("note")
	p.Warning("careful")
	p.Error("failed")

	assert.Equal(t, "Files\n✓ uploaded\nnote\n", out.String())
	assert.Equal(t, "⚠ careful\n✗ failed\n", errOut.String())
}

func TestPrinter_JSONModeKeepsStdoutClean(t *testing.T) {
	p, out, errOut := newTestPrinter(ModeJSON)

	p.Title("Files")
	p.Info("note")
	p.Muted("muted")
	p.Box("title", "content")
	p.KeyValues("a", "b")
	p.Success("done")
	require.NoError(t, p.JSON(map[string]int{"balance": 3}))

	assert.JSONEq(t, `{"balance":3}`, out.String())
	assert.Equal(t, "OK: done\n", errOut.String())
}

func TestPrinter_KeyValuesAligned(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)

	p.KeyValues("id", "1", "email", "a@b.com", "dangling")

	assert.Equal(t, "id:    1\nemail: a@b.com\n", out.String())
}

func TestPrinter_ErrorBoxPlain(t *testing.T) {
	p, _, errOut := newTestPrinter(ModePlain)

	p.ErrorBox("session expired", "run `datalens login`")

	assert.Equal(t, "ERROR session expired: run `datalens login`\n", errOut.String())
}

// =============================================================================
// Domain View Tests
// =============================================================================

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "x", FormatValue("x"))
	assert.Equal(t, "3", FormatValue(3.0))
	assert.Equal(t, "2.8723", FormatValue(2.8722813232690143))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "7", FormatValue(7))
}

func TestPrinter_FilesTable(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)
	uploaded := datatypes.Timestamp{Time: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}

	require.NoError(t, p.Files([]datatypes.UploadedFile{
		{ID: 42, FileName: "sales.csv", FileType: "csv", FileSize: 2048, UploadedAt: uploaded},
	}))

	text := out.String()
	for _, want := range []string{"ID", "NAME", "42", "sales.csv", "2.0 kB", "2024-05-01 10:00"} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "\x1b[", "plain mode must not emit escape sequences")
}

func TestPrinter_EmptyListsJSON(t *testing.T) {
	p, out, _ := newTestPrinter(ModeJSON)

	require.NoError(t, p.Files(nil))
	require.NoError(t, p.Mappings(nil))
	require.NoError(t, p.History(nil))

	assert.Equal(t, "[]\n[]\n[]\n", out.String())
}

func TestPrinter_EmptyListsPlain(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)

	require.NoError(t, p.Files(nil))
	require.NoError(t, p.Mappings(nil))

	assert.Equal(t, "No files uploaded yet.\nNo mappings defined.\n", out.String())
}

func TestPrinter_PreviewKeepsColumnOrder(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)

	require.NoError(t, p.Preview(datatypes.FilePreview{
		Columns: []string{"region", "amount"},
		Sample:  []map[string]any{{"amount": 12.5, "region": "north"}},
	}))

	text := out.String()
	assert.Less(t, strings.Index(text, "region"), strings.Index(text, "amount"))
	assert.Contains(t, text, "north")
	assert.Contains(t, text, "12.5")
}

func TestPrinter_AnalysisOrdersStatistics(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)
	result := datatypes.AnalysisResult{
		RowCount: 3,
		Columns:  []string{"amount", "region"},
		Describe: map[string]map[string]any{
			"amount": {"count": 3.0, "mean": 20.0, "max": 30.0, "min": 10.0, "std": 10.0},
			"region": {"count": 3.0, "unique": 2.0, "top": "north"},
		},
		Data: []map[string]any{
			{"amount": 10.0, "region": "north"},
			{"amount": 20.0, "region": "south"},
			{"amount": 30.0, "region": "north"},
		},
	}

	require.NoError(t, p.Analysis(result, 2))

	text := out.String()
	assert.Contains(t, text, "Analysis: 3 rows, 2 columns")
	count := strings.Index(text, "count")
	mean := strings.Index(text, "mean")
	maxIdx := strings.Index(text, "max")
	assert.True(t, count < mean && mean < maxIdx, "statistics follow describe order")
	assert.Contains(t, text, "… 1 more rows")
}

func TestPrinter_AnalysisJSON(t *testing.T) {
	p, out, _ := newTestPrinter(ModeJSON)

	require.NoError(t, p.Analysis(datatypes.AnalysisResult{RowCount: 1, Columns: []string{"a"}}, 5))

	var decoded datatypes.AnalysisResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.RowCount)
}

func TestPrinter_HistorySigns(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)

	require.NoError(t, p.History([]datatypes.CreditHistoryEntry{
		{ID: 1, Amount: -1, Type: datatypes.CreditTypeAnalysis},
		{ID: 2, Amount: 5, Type: datatypes.CreditTypeTopUp},
	}))

	text := out.String()
	assert.Contains(t, text, "-1")
	assert.Contains(t, text, "+5")
	assert.Contains(t, text, "ANALYSIS")
}

func TestPrinter_HistoryRichUsesColorStyles(t *testing.T) {
	p, out, _ := newTestPrinter(ModeRich)

	require.NoError(t, p.History([]datatypes.CreditHistoryEntry{
		{ID: 1, Amount: -1, Type: datatypes.CreditTypeAnalysis},
	}))

	assert.Contains(t, out.String(), "ANALYSIS")
}

func TestPrinter_Balance(t *testing.T) {
	p, out, _ := newTestPrinter(ModeJSON)
	require.NoError(t, p.Balance(8))
	assert.JSONEq(t, `{"balance":8}`, out.String())

	p, out, _ = newTestPrinter(ModePlain)
	require.NoError(t, p.Balance(8))
	assert.Equal(t, "credits: 8\n", out.String())
}

// =============================================================================
// Spinner Tests
// =============================================================================

func TestSpinner_PlainModeDoesNotAnimate(t *testing.T) {
	p, _, errOut := newTestPrinter(ModePlain)
	spin := p.NewSpinner("Loading...")

	spin.Start()
	assert.False(t, spin.Running())
	spin.Stop()

	assert.Empty(t, errOut.String())
}

func TestSpinner_RichModeClearsLineOnStop(t *testing.T) {
	p, _, errOut := newTestPrinter(ModeRich)
	spin := p.NewSpinner("Loading...")

	spin.Start()
	assert.True(t, spin.Running())
	time.Sleep(3 * spinnerInterval)
	spin.UpdateMessage("Still loading")
	spin.Stop()
	spin.Stop()

	assert.False(t, spin.Running())
	assert.True(t, strings.HasSuffix(errOut.String(), "\r\033[K"))
}

func TestWithSpinner_ReturnsError(t *testing.T) {
	p, _, _ := newTestPrinter(ModePlain)
	boom := errors.New("boom")

	err := p.WithSpinner("working", func() error { return boom })

	assert.ErrorIs(t, err, boom)
}
