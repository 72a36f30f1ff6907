// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis parses uploaded CSV files and computes the summary
// statistics returned by the analyze endpoint.
package analysis

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// PreviewRows is the number of sample rows shown by the preview endpoint.
const PreviewRows = 5

var ErrEmpty = errors.New("file has no header row")

// Table is a parsed CSV file. Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ParseCSV reads a header row followed by data rows. Short rows are
// padded and long rows truncated to the header width.
func ParseCSV(data []byte) (Table, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, ErrEmpty
	}
	if err != nil {
		return Table{}, fmt.Errorf("failed to read CSV headers: %w", err)
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	t := Table{Columns: headers}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return Table{}, fmt.Errorf("parse error at line %d, column %d: %w", perr.Line, perr.Column, perr.Err)
			}
			return Table{}, fmt.Errorf("error reading line %d: %w", line, err)
		}
		if len(row) != len(headers) {
			fixed := make([]string, len(headers))
			copy(fixed, row)
			row = fixed
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Cell converts a raw cell: numbers become float64, empty cells nil,
// everything else stays a string.
func Cell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

// Records returns up to limit rows as column → value maps. limit < 0
// returns every row.
func (t Table) Records(limit int) []map[string]any {
	rows := t.Rows
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			rec[c] = Cell(row[i])
		}
		out = append(out, rec)
	}
	return out
}

// HasColumn reports whether name is a header.
func (t Table) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// Rename returns a copy with columns renamed per renames (old → new).
// Unknown source columns are ignored.
func (t Table) Rename(renames map[string]string) Table {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if target, ok := renames[c]; ok && target != "" {
			cols[i] = target
		} else {
			cols[i] = c
		}
	}
	return Table{Columns: cols, Rows: t.Rows}
}

// =============================================================================
// Describe
// =============================================================================

// Describe computes per-column summary statistics.
//
// # Description
//
// A column whose non-empty cells all parse as numbers gets count, mean,
// std (sample, n-1), min, 25%, 50%, 75% and max. Any other column gets
// count, unique, top (most frequent value, earliest on ties) and freq.
// Empty cells are excluded from every statistic. Statistics that are
// undefined (std of one value, anything of zero values) are null.
//
// # Outputs
//
//   - map[column]map[statistic]value
func Describe(t Table) map[string]map[string]any {
	out := make(map[string]map[string]any, len(t.Columns))
	for i, col := range t.Columns {
		values := make([]string, 0, len(t.Rows))
		for _, row := range t.Rows {
			if v := strings.TrimSpace(row[i]); v != "" {
				values = append(values, v)
			}
		}
		if nums, ok := numeric(values); ok {
			out[col] = describeNumeric(nums)
		} else {
			out[col] = describeText(values)
		}
	}
	return out
}

func numeric(values []string) ([]float64, bool) {
	if len(values) == 0 {
		return nil, false
	}
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		f, ok := Cell(v).(float64)
		if !ok {
			return nil, false
		}
		nums = append(nums, f)
	}
	return nums, true
}

func describeNumeric(nums []float64) map[string]any {
	n := float64(len(nums))
	sum := 0.0
	for _, x := range nums {
		sum += x
	}
	mean := sum / n

	var std any
	if len(nums) > 1 {
		ss := 0.0
		for _, x := range nums {
			ss += (x - mean) * (x - mean)
		}
		std = math.Sqrt(ss / (n - 1))
	}

	sorted := slices.Clone(nums)
	slices.Sort(sorted)
	return map[string]any{
		"count": n,
		"mean":  mean,
		"std":   std,
		"min":   sorted[0],
		"25%":   quantile(sorted, 0.25),
		"50%":   quantile(sorted, 0.5),
		"75%":   quantile(sorted, 0.75),
		"max":   sorted[len(sorted)-1],
	}
}

// quantile uses linear interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func describeText(values []string) map[string]any {
	counts := make(map[string]int)
	var order []string
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	var top any
	freq := 0
	for _, v := range order {
		if counts[v] > freq {
			top, freq = v, counts[v]
		}
	}
	stats := map[string]any{
		"count":  float64(len(values)),
		"unique": float64(len(order)),
		"top":    top,
		"freq":   nil,
	}
	if freq > 0 {
		stats["freq"] = float64(freq)
	}
	return stats
}
