// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders datalens command output for terminals, pipes and
// scripts.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Datalens palette
var (
	ColorIndigo   = lipgloss.Color("#6C7BFF") // titles, highlights
	ColorIris     = lipgloss.Color("#8F9BFF") // subtitles
	ColorSteel    = lipgloss.Color("#5A6378") // borders, muted text
	ColorGraphite = lipgloss.Color("#2B303B")

	ColorSuccess = lipgloss.Color("#3DD68C")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = ColorSteel
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style

	TableHeader lipgloss.Style
	TableCell   lipgloss.Style
	TableBorder lipgloss.Style
	Debit       lipgloss.Style
	Credit      lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorIndigo),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorIris),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorIndigo).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSteel).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	TableHeader: lipgloss.NewStyle().Bold(true).Foreground(ColorIris).Padding(0, 1),
	TableCell:   lipgloss.NewStyle().Padding(0, 1),
	TableBorder: lipgloss.NewStyle().Foreground(ColorGraphite),
	Debit:       lipgloss.NewStyle().Foreground(ColorError).Padding(0, 1),
	Credit:      lipgloss.NewStyle().Foreground(ColorSuccess).Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes command results to Out and status messages to Err.
//
// # Description
//
// Every datalens command prints through a Printer so that one flag
// (--output) decides between decorated terminal output, plain text for
// pipes and a single JSON document for scripts. In ModeJSON the
// human-oriented helpers (Title, Info, Muted, Box) are silent and
// Success/Warning/Error go to Err, keeping Out parseable.
//
// # Thread Safety
//
// Safe for concurrent use; writes are serialized.
type Printer struct {
	out  io.Writer
	err  io.Writer
	mode Mode
	mu   sync.Mutex
}

// NewPrinter creates a Printer. Nil writers default to os.Stdout and
// os.Stderr.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if mode == "" {
		mode = ModePlain
	}
	return &Printer{out: out, err: errOut, mode: mode}
}

// Mode returns the printer's output mode.
func (p *Printer) Mode() Mode { return p.mode }

// Out returns the result writer.
func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) rich() bool { return p.mode == ModeRich }

func (p *Printer) println(w io.Writer, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(w, s)
}

// paint renders text with style only in rich mode.
func (p *Printer) paint(style lipgloss.Style, text string) string {
	if !p.rich() {
		return text
	}
	return style.Render(text)
}

// Title prints a styled title
func (p *Printer) Title(text string) {
	if p.mode == ModeJSON {
		return
	}
	p.println(p.out, p.paint(Styles.Title, text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.mode {
	case ModeJSON:
		p.println(p.err, "OK: "+text)
	case ModePlain:
		p.println(p.out, string(IconSuccess)+" "+text)
	default:
		p.println(p.out, IconSuccess.Render()+" "+Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.mode {
	case ModeJSON:
		p.println(p.err, "WARN: "+text)
	case ModePlain:
		p.println(p.err, string(IconWarning)+" "+text)
	default:
		p.println(p.err, IconWarning.Render()+" "+Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.mode {
	case ModeJSON:
		p.println(p.err, "ERROR: "+text)
	case ModePlain:
		p.println(p.err, string(IconError)+" "+text)
	default:
		p.println(p.err, IconError.Render()+" "+Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	switch p.mode {
	case ModeJSON:
		return
	case ModePlain:
		p.println(p.out, text)
	default:
		p.println(p.out, Styles.Muted.Render("│")+" "+text)
	}
}

// Muted prints muted/secondary text
func (p *Printer) Muted(text string) {
	if p.mode == ModeJSON {
		return
	}
	p.println(p.out, p.paint(Styles.Muted, text))
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	switch p.mode {
	case ModeJSON:
		return
	case ModePlain:
		p.println(p.out, title+": "+content)
	default:
		p.println(p.out, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// ErrorBox prints a failure with a hint underneath, on Err.
func (p *Printer) ErrorBox(title, content string) {
	switch p.mode {
	case ModeJSON, ModePlain:
		p.println(p.err, "ERROR "+title+": "+content)
	default:
		titleLine := Styles.Error.Bold(true).Render(title)
		p.println(p.err, Styles.ErrorBox.Width(60).Render(titleLine+"\n"+content))
	}
}

// KeyValues prints aligned "key: value" pairs. pairs alternates key and
// value; a trailing key without value is ignored.
func (p *Printer) KeyValues(pairs ...string) {
	if p.mode == ModeJSON {
		return
	}
	width := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		width = max(width, len(pairs[i]))
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		key := fmt.Sprintf("%-*s", width+1, pairs[i]+":")
		p.println(p.out, p.paint(Styles.Muted, key)+" "+pairs[i+1])
	}
}

// JSON writes v as one indented JSON document to Out.
func (p *Printer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	p.println(p.out, string(data))
	return nil
}
