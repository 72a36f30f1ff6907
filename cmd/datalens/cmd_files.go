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
	"os"
	"path/filepath"
	"strconv"

	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/ux"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// dashboard is the JSON shape of `dashboard`.
type dashboard struct {
	User    *datatypes.User `json:"user"`
	Files   int             `json:"files"`
	Balance int64           `json:"balance"`
}

func (c *cli) dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show file count and credit balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.signedIn(cmd, "/")
			if err != nil {
				return err
			}

			var files []datatypes.UploadedFile
			var balance int64
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				var err error
				files, err = a.client.ListFiles(ctx)
				return err
			})
			g.Go(func() error {
				var err error
				balance, err = a.ledger.Balance(ctx)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			view := dashboard{User: a.session.User(), Files: len(files), Balance: balance}
			if c.printer.Mode() == ux.ModeJSON {
				return c.printer.JSON(view)
			}
			if view.User != nil {
				c.printer.Title("Welcome back, " + view.User.Name)
			}
			c.printer.KeyValues(
				"files", strconv.Itoa(view.Files),
				"credits", strconv.FormatInt(view.Balance, 10),
			)
			return nil
		},
	}
}

func (c *cli) filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage uploaded files",
	}
	cmd.AddCommand(
		c.filesListCmd(),
		c.filesUploadCmd(),
		c.filesDeleteCmd(),
		c.filesDownloadCmd(),
		c.filesPreviewCmd(),
	)
	return cmd
}

func (c *cli) filesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.signedIn(cmd, "/files")
			if err != nil {
				return err
			}
			files, err := a.client.ListFiles(cmd.Context())
			if err != nil {
				return err
			}
			return c.printer.Files(files)
		},
	}
}

func (c *cli) filesUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload PATH",
		Short: "Upload a .csv, .xlsx, .xls or .pdf file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.signedIn(cmd, "/files/upload")
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var uploaded datatypes.UploadedFile
			err = c.printer.WithSpinner("Uploading "+filepath.Base(args[0]), func() error {
				var err error
				uploaded, err = a.client.UploadFile(cmd.Context(), filepath.Base(args[0]), f)
				return err
			})
			if err != nil {
				return err
			}
			if c.printer.Mode() == ux.ModeJSON {
				return c.printer.JSON(uploaded)
			}
			c.printer.Success(fmt.Sprintf("Uploaded %s as file %d", filepath.Base(args[0]), uploaded.ID))
			c.printer.Muted(fmt.Sprintf("Next: datalens files preview %d", uploaded.ID))
			return nil
		},
	}
}

func (c *cli) filesDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("file id", args[0])
			if err != nil {
				return err
			}
			a, err := c.signedIn(cmd, "/files")
			if err != nil {
				return err
			}
			if !yes {
				if !c.printer.Interactive() {
					return &usageError{msg: "refusing to delete without --yes"}
				}
				ok, err := confirm(cmd.Context(), fmt.Sprintf("Delete file %d?", id))
				if err != nil {
					return err
				}
				if !ok {
					c.printer.Muted("Cancelled")
					return nil
				}
			}
			if err := a.client.DeleteFile(cmd.Context(), id); err != nil {
				return err
			}
			c.printer.Success(fmt.Sprintf("Deleted file %d", id))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (c *cli) filesDownloadCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download ID",
		Short: "Download a file; -o - writes it to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("file id", args[0])
			if err != nil {
				return err
			}
			a, err := c.signedIn(cmd, "/files")
			if err != nil {
				return err
			}
			dl, err := a.client.DownloadFile(cmd.Context(), id)
			if err != nil {
				return err
			}
			if output == "-" {
				_, err := c.streams.out.Write(dl.Data)
				return err
			}
			path := output
			if path == "" {
				path = filepath.Base(dl.Filename)
				if dl.Filename == "" || path == "." || path == string(filepath.Separator) {
					path = fmt.Sprintf("file-%d", id)
				}
			}
			if err := os.WriteFile(path, dl.Data, 0o644); err != nil {
				return err
			}
			c.printer.Success(fmt.Sprintf("Saved %s (%d bytes)", path, len(dl.Data)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "", "destination path (default: the stored file name)")
	return cmd
}

func (c *cli) filesPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview ID",
		Short: "Show a file's columns, sample rows and mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("file id", args[0])
			if err != nil {
				return err
			}
			a, err := c.signedIn(cmd, fileRoute(id))
			if err != nil {
				return err
			}
			wf := a.navigator.Open(id)
			defer a.navigator.Leave()
			if err := wf.Load(cmd.Context()); err != nil {
				return err
			}
			snap := wf.Snapshot()
			if c.printer.Mode() == ux.ModeJSON {
				return c.printer.JSON(snap.Preview)
			}
			if err := c.printer.Preview(*snap.Preview); err != nil {
				return err
			}
			return c.printer.Mappings(snap.Mappings)
		},
	}
}
