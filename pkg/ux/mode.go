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
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode controls how much decoration the Printer adds.
type Mode string

const (
	// ModeRich uses colors, icons, boxes and the animated spinner.
	ModeRich Mode = "rich"

	// ModePlain prints the same content without escape sequences. Used when
	// stdout is not a terminal.
	ModePlain Mode = "plain"

	// ModeJSON writes one JSON document per command to stdout and status
	// lines to stderr.
	ModeJSON Mode = "json"
)

// ParseOutput maps the --output flag onto a Mode. "text" picks rich or
// plain depending on whether out is a terminal.
func ParseOutput(format string, out io.Writer) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		if IsTerminal(out) {
			return ModeRich, nil
		}
		return ModePlain, nil
	case "plain":
		return ModePlain, nil
	case "json":
		return ModeJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", format)
	}
}

// IsTerminal reports whether w is a terminal (including Cygwin ptys).
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Interactive reports whether prompts may be shown: stdin must be a
// terminal and the output must not be machine-readable.
func (p *Printer) Interactive() bool {
	return p.mode != ModeJSON && IsTerminal(os.Stdin)
}
