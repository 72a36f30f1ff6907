// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command devbackend serves an in-memory datalens API for local use.
//
// # Environment Variables
//
//   - DEVBACKEND_JWT_SECRET: token signing secret (default: random per run)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector used with --trace-exporter otlp
//
// # Usage
//
//	# Build
//	go build -o devbackend ./cmd/devbackend
//
//	# Run, then point the client at it
//	./devbackend serve --port 8080 --starter-credits 3
//	datalens --api-url http://localhost:8080/api login
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/AleutianAI/datalens/pkg/telemetry"
	"github.com/AleutianAI/datalens/services/devbackend"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	port           int
	starterCredits int64
	tokenTTL       time.Duration
	maxUploadBytes int64
	logLevel       string
	traceExporter  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "devbackend",
		Short:         "In-memory datalens API for local development",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	defaults := devbackend.DefaultConfig()
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.port, "port", 8080, "listen port")
	cmd.Flags().Int64Var(&opts.starterCredits, "starter-credits", defaults.StarterCredits, "credits granted to new accounts")
	cmd.Flags().DurationVar(&opts.tokenTTL, "token-ttl", defaults.TokenTTL, "access token lifetime")
	cmd.Flags().Int64Var(&opts.maxUploadBytes, "max-upload-bytes", defaults.MaxUploadBytes, "largest accepted upload")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().StringVar(&opts.traceExporter, "trace-exporter", telemetry.ExporterNone, "none, stdout or otlp")
	return cmd
}

// buildConfig turns flags and environment into a backend config.
func buildConfig(opts serveOptions, logger *logging.Logger, reg *prometheus.Registry) (devbackend.Config, error) {
	if opts.port <= 0 || opts.port > 65535 {
		return devbackend.Config{}, fmt.Errorf("invalid port %d", opts.port)
	}
	if opts.starterCredits < 0 {
		return devbackend.Config{}, errors.New("--starter-credits must not be negative")
	}
	cfg := devbackend.DefaultConfig()
	cfg.StarterCredits = opts.starterCredits
	cfg.TokenTTL = opts.tokenTTL
	cfg.MaxUploadBytes = opts.maxUploadBytes
	cfg.Logger = logger
	cfg.Registry = reg
	if secret := os.Getenv("DEVBACKEND_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = []byte(secret)
	}
	return cfg, nil
}

func serve(ctx context.Context, opts serveOptions) error {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: level, Service: "devbackend", JSON: true})
	defer logger.Close()

	tcfg := telemetry.DefaultConfig(devbackend.ServiceName)
	tcfg.TraceExporter = opts.traceExporter
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		tcfg.OTLPEndpoint = endpoint
	}
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("Telemetry shutdown error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg, err := buildConfig(opts, logger, reg)
	if err != nil {
		return err
	}
	if len(cfg.JWTSecret) == 0 {
		logger.Warn("DEVBACKEND_JWT_SECRET not set; tokens will not survive a restart")
	}

	gin.SetMode(gin.ReleaseMode)
	srv, err := devbackend.New(cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.port),
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting devbackend", "port", opts.port, "starter_credits", cfg.StarterCredits, "token_ttl", cfg.TokenTTL.String())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down devbackend")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	}
}
