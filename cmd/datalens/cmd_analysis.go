// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/workflow"
	"github.com/spf13/cobra"
)

// openWorkflow resumes the session for the file's route and loads the
// file's preview and mappings.
func (c *cli) openWorkflow(cmd *cobra.Command, arg string) (*app, *workflow.Workflow, error) {
	id, err := parseID("file id", arg)
	if err != nil {
		return nil, nil, err
	}
	a, err := c.signedIn(cmd, fileRoute(id))
	if err != nil {
		return nil, nil, err
	}
	wf := a.navigator.Open(id)
	if err := wf.Load(cmd.Context()); err != nil {
		return nil, nil, err
	}
	return a, wf, nil
}

func (c *cli) mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Map a file's columns to analysis fields",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list ID",
		Short: "List a file's mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, wf, err := c.openWorkflow(cmd, args[0])
			if err != nil {
				return err
			}
			return c.printer.Mappings(wf.Snapshot().Mappings)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add ID SOURCE TARGET",
		Short: "Map SOURCE column to TARGET field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, wf, err := c.openWorkflow(cmd, args[0])
			if err != nil {
				return err
			}
			if err := wf.AddMapping(cmd.Context(), args[1], args[2]); err != nil {
				return err
			}
			c.printer.Success(fmt.Sprintf("Mapped %s → %s", args[1], args[2]))
			return c.printer.Mappings(wf.Snapshot().Mappings)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "update ID MAPPING_ID TARGET",
		Short: "Change the target field of a mapping",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mappingID, err := parseID("mapping id", args[1])
			if err != nil {
				return err
			}
			_, wf, err := c.openWorkflow(cmd, args[0])
			if err != nil {
				return err
			}
			if err := wf.UpdateMapping(cmd.Context(), mappingID, args[2]); err != nil {
				return err
			}
			c.printer.Success(fmt.Sprintf("Mapping %d now targets %s", mappingID, args[2]))
			return c.printer.Mappings(wf.Snapshot().Mappings)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear ID",
		Short: "Delete all mappings of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, wf, err := c.openWorkflow(cmd, args[0])
			if err != nil {
				return err
			}
			if err := wf.ClearMappings(cmd.Context()); err != nil {
				return err
			}
			c.printer.Success("Cleared all mappings")
			return c.printer.Mappings(wf.Snapshot().Mappings)
		},
	})
	return cmd
}

// parseMapping splits "SOURCE=TARGET".
func parseMapping(s string) (datatypes.CreateMappingRequest, error) {
	source, target, ok := strings.Cut(s, "=")
	if !ok {
		return datatypes.CreateMappingRequest{}, &usageError{msg: fmt.Sprintf("--map wants SOURCE=TARGET, got %q", s)}
	}
	return datatypes.CreateMappingRequest{
		SourceColumn: strings.TrimSpace(source),
		TargetField:  strings.TrimSpace(target),
	}, nil
}

// applyMappings adds each requested mapping in order. Mappings already
// on the file are kept as they are.
func applyMappings(cmd *cobra.Command, wf *workflow.Workflow, requests []datatypes.CreateMappingRequest) error {
	for _, req := range requests {
		if err := wf.AddMapping(cmd.Context(), req.SourceColumn, req.TargetField); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) analyzeCmd() *cobra.Command {
	var maps []string
	var rows int
	cmd := &cobra.Command{
		Use:   "analyze ID",
		Short: "Run a paid analysis of a file (costs one credit)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requests := make([]datatypes.CreateMappingRequest, 0, len(maps))
			for _, m := range maps {
				req, err := parseMapping(m)
				if err != nil {
					return err
				}
				requests = append(requests, req)
			}

			a, wf, err := c.openWorkflow(cmd, args[0])
			if err != nil {
				return err
			}
			if err := applyMappings(cmd, wf, requests); err != nil {
				return err
			}

			var result *datatypes.AnalysisResult
			err = c.printer.WithSpinner("Analyzing", func() error {
				var err error
				result, err = wf.Analyze(cmd.Context())
				return err
			})
			if err != nil {
				if balance, ok := a.balance(); ok {
					c.printer.Muted(fmt.Sprintf("%d credits remaining", balance))
				}
				return err
			}
			if err := c.printer.Analysis(*result, rows); err != nil {
				return err
			}
			if balance, ok := a.balance(); ok {
				c.printer.Muted(fmt.Sprintf("%d credits remaining", balance))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&maps, "map", nil, "add a SOURCE=TARGET mapping before analyzing (repeatable)")
	cmd.Flags().IntVar(&rows, "rows", 10, "number of transformed rows to show (0 hides them)")
	return cmd
}
