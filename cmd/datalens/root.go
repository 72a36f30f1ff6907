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
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/datalens/cmd/datalens/config"
	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/AleutianAI/datalens/pkg/ux"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags.
type globalOptions struct {
	configPath string
	apiURL     string
	logLevel   string
	output     string
}

// cli holds per-invocation state shared by all commands.
type cli struct {
	streams     streams
	opts        globalOptions
	openBackend BackendOpener

	printer *ux.Printer
	cfg     config.Config
	logger  *logging.Logger
	app     *app
}

// run executes one datalens invocation and returns the exit code.
func run(ctx context.Context, args []string, s streams) int {
	return newCLI(s, openBadgerBackend).execute(ctx, args)
}

func newCLI(s streams, open BackendOpener) *cli {
	return &cli{streams: s, openBackend: open}
}

func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(c.streams.in)
	root.SetOut(c.streams.out)
	root.SetErr(c.streams.err)

	err := root.ExecuteContext(ctx)
	c.close()
	if err == nil {
		return 0
	}
	if c.printer == nil {
		c.printer = ux.NewPrinter(c.streams.out, c.streams.err, ux.ModePlain)
	}
	renderError(c.printer, err)
	return 1
}

func (c *cli) close() {
	if c.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.app.Close(ctx); err != nil {
			c.logger.Warn("shutdown", "error", err)
		}
		c.app = nil
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
}

// setup runs before every command: output mode, configuration, logging.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	mode, err := ux.ParseOutput(c.opts.output, c.streams.out)
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	c.printer = ux.NewPrinter(c.streams.out, c.streams.err, mode)

	cfg, created, err := config.Load(c.opts.configPath)
	if err != nil {
		return err
	}
	if c.opts.apiURL != "" {
		cfg.API.BaseURL = c.opts.apiURL
	}
	if c.opts.logLevel != "" {
		cfg.Logging.Level = c.opts.logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	c.cfg = cfg
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "datalens",
		Output:  c.streams.err,
	})
	if created {
		c.logger.Info("wrote default configuration", "api", cfg.API.BaseURL)
	}
	c.logger.Debug("command", "name", cmd.CommandPath())
	return nil
}

// open builds the client stack on first use.
func (c *cli) open(cmd *cobra.Command) (*app, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := newApp(cmd.Context(), c.cfg, c.logger, c.streams.err, c.openBackend)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

// signedIn opens the stack and requires a signed-in session for route.
func (c *cli) signedIn(cmd *cobra.Command, route string) (*app, error) {
	a, err := c.open(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := a.requireSession(cmd.Context(), route); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "datalens",
		Short:             "Upload tabular files, map their columns and run paid analyses",
		Version:           version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.configPath, "config", "", "config file (default ~/.datalens/datalens.yaml)")
	flags.StringVar(&c.opts.apiURL, "api-url", "", "backend base URL, e.g. http://localhost:8080/api")
	flags.StringVar(&c.opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&c.opts.output, "output", "text", "output format: text or json")

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.sessionCmd(),
		c.dashboardCmd(),
		c.filesCmd(),
		c.mappingCmd(),
		c.analyzeCmd(),
		c.creditsCmd(),
	)
	return root
}

// parseID parses a positive numeric identifier argument.
func parseID(what, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, &usageError{msg: fmt.Sprintf("%s must be a positive number, got %q", what, arg)}
	}
	return id, nil
}

func fileRoute(id int64) string {
	return "/files/" + strconv.FormatInt(id, 10)
}
