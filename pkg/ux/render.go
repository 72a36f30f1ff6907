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
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

// describeOrder fixes the row order of the statistics table. Statistics
// outside this list follow in alphabetical order.
var describeOrder = []string{"count", "unique", "top", "freq", "mean", "std", "min", "25%", "50%", "75%", "max"}

const timeLayout = "2006-01-02 15:04"

// =============================================================================
// Tables
// =============================================================================

// Table renders rows under headers. Rich mode draws a styled rounded
// border; plain mode uses ASCII.
func (p *Printer) Table(headers []string, rows [][]string) string {
	t := table.New().Headers(headers...).Rows(rows...)
	if !p.rich() {
		return t.Border(lipgloss.ASCIIBorder()).String()
	}
	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(Styles.TableBorder).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.TableHeader
			}
			return Styles.TableCell
		}).
		String()
}

func (p *Printer) printTable(headers []string, rows [][]string) {
	p.println(p.out, p.Table(headers, rows))
}

// FormatValue renders a decoded JSON value for a table cell. Floats are
// rounded to four decimals and integral floats lose their fraction.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
		return strconv.FormatFloat(math.Round(val*1e4)/1e4, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func formatTime(ts datatypes.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(timeLayout)
}

// =============================================================================
// Domain views
// =============================================================================

// User prints a profile.
func (p *Printer) User(u datatypes.User) error {
	if p.mode == ModeJSON {
		return p.JSON(u)
	}
	p.KeyValues("id", strconv.FormatInt(u.ID, 10), "name", u.Name, "email", u.Email)
	return nil
}

// Files prints the file list.
func (p *Printer) Files(files []datatypes.UploadedFile) error {
	if p.mode == ModeJSON {
		if files == nil {
			files = []datatypes.UploadedFile{}
		}
		return p.JSON(files)
	}
	if len(files) == 0 {
		p.Muted("No files uploaded yet.")
		return nil
	}
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{
			strconv.FormatInt(f.ID, 10),
			f.FileName,
			f.FileType,
			humanize.Bytes(uint64(max(f.FileSize, 0))),
			formatTime(f.UploadedAt),
		})
	}
	p.printTable([]string{"ID", "NAME", "TYPE", "SIZE", "UPLOADED"}, rows)
	return nil
}

// Preview prints a file's columns and sample rows.
func (p *Printer) Preview(preview datatypes.FilePreview) error {
	if p.mode == ModeJSON {
		return p.JSON(preview)
	}
	if len(preview.Columns) == 0 {
		p.Muted("No columns detected.")
		return nil
	}
	p.printTable(preview.Columns, recordRows(preview.Columns, preview.Sample))
	return nil
}

// Mappings prints a file's column mappings.
func (p *Printer) Mappings(mappings []datatypes.ColumnMapping) error {
	if p.mode == ModeJSON {
		if mappings == nil {
			mappings = []datatypes.ColumnMapping{}
		}
		return p.JSON(mappings)
	}
	if len(mappings) == 0 {
		p.Muted("No mappings defined.")
		return nil
	}
	rows := make([][]string, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			m.SourceColumn,
			string(IconArrow),
			m.TargetField,
		})
	}
	p.printTable([]string{"ID", "SOURCE", "", "TARGET"}, rows)
	return nil
}

// Analysis prints the statistics table and at most maxRows data rows.
// maxRows <= 0 hides the data section.
func (p *Printer) Analysis(result datatypes.AnalysisResult, maxRows int) error {
	if p.mode == ModeJSON {
		return p.JSON(result)
	}
	p.Title(fmt.Sprintf("Analysis: %d rows, %d columns", result.RowCount, len(result.Columns)))

	columns := make([]string, 0, len(result.Columns))
	for _, c := range result.Columns {
		if _, ok := result.Describe[c]; ok {
			columns = append(columns, c)
		}
	}
	if len(columns) > 0 {
		headers := append([]string{""}, columns...)
		var rows [][]string
		for _, stat := range statNames(result.Describe) {
			row := []string{stat}
			for _, c := range columns {
				value, ok := result.Describe[c][stat]
				if !ok {
					row = append(row, "")
					continue
				}
				row = append(row, FormatValue(value))
			}
			rows = append(rows, row)
		}
		p.printTable(headers, rows)
	}

	if maxRows > 0 && len(result.Data) > 0 {
		data := result.Data
		if len(data) > maxRows {
			data = data[:maxRows]
		}
		p.printTable(result.Columns, recordRows(result.Columns, data))
		if hidden := len(result.Data) - len(data); hidden > 0 {
			p.Muted(fmt.Sprintf("… %d more rows", hidden))
		}
	}
	return nil
}

// Balance prints the credit balance.
func (p *Printer) Balance(balance int64) error {
	if p.mode == ModeJSON {
		return p.JSON(datatypes.CreditBalance{Balance: balance})
	}
	p.KeyValues("credits", p.paint(Styles.Highlight, strconv.FormatInt(balance, 10)))
	return nil
}

// History prints credit movements, debits in red and top-ups in green.
func (p *Printer) History(entries []datatypes.CreditHistoryEntry) error {
	if p.mode == ModeJSON {
		if entries == nil {
			entries = []datatypes.CreditHistoryEntry{}
		}
		return p.JSON(entries)
	}
	if len(entries) == 0 {
		p.Muted("No credit history.")
		return nil
	}
	headers := []string{"DATE", "TYPE", "AMOUNT"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		amount := strconv.FormatInt(e.Amount, 10)
		if !e.IsDebit() {
			amount = "+" + amount
		}
		rows = append(rows, []string{formatTime(e.CreatedAt), e.Type, amount})
	}
	if !p.rich() {
		p.printTable(headers, rows)
		return nil
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(Styles.TableBorder).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return Styles.TableHeader
			case col == 2 && entries[row].IsDebit():
				return Styles.Debit
			case col == 2:
				return Styles.Credit
			default:
				return Styles.TableCell
			}
		})
	p.println(p.out, t.String())
	return nil
}

func recordRows(columns []string, records []map[string]any) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = FormatValue(rec[c])
		}
		rows = append(rows, row)
	}
	return rows
}

func statNames(describe map[string]map[string]any) []string {
	seen := make(map[string]bool)
	for _, stats := range describe {
		for name := range stats {
			seen[name] = true
		}
	}
	var names []string
	for _, name := range describeOrder {
		if seen[name] {
			names = append(names, name)
			delete(seen, name)
		}
	}
	var extra []string
	for name := range seen {
		extra = append(extra, name)
	}
	slices.SortFunc(extra, strings.Compare)
	return append(names, extra...)
}
