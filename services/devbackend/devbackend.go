// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package devbackend assembles an in-memory implementation of the file
// analysis API for local use and end-to-end tests.
//
// # Description
//
// New wires the store, token issuer, metrics and handlers into a gin
// engine. The engine can be served with http.Server or mounted on an
// httptest.Server:
//
//	srv, err := devbackend.New(devbackend.DefaultConfig())
//	ts := httptest.NewServer(srv.Router)
//	client base URL: ts.URL + "/api"
//
// All state lives in memory and is lost when the process exits.
package devbackend

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/AleutianAI/datalens/pkg/telemetry"
	"github.com/AleutianAI/datalens/services/devbackend/auth"
	"github.com/AleutianAI/datalens/services/devbackend/handlers"
	"github.com/AleutianAI/datalens/services/devbackend/observability"
	"github.com/AleutianAI/datalens/services/devbackend/routes"
	"github.com/AleutianAI/datalens/services/devbackend/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName identifies the backend in spans and logs.
const ServiceName = "datalens-devbackend"

// Config configures a development backend.
type Config struct {
	// JWTSecret signs access tokens. Empty generates a random secret,
	// which invalidates tokens across restarts.
	JWTSecret []byte

	// TokenTTL is the access token lifetime.
	TokenTTL time.Duration

	// StarterCredits is granted to every new account.
	StarterCredits int64

	// BcryptCost is the password hashing cost. Tests use bcrypt.MinCost.
	BcryptCost int

	// MaxUploadBytes caps one upload.
	MaxUploadBytes int64

	// Logger receives request and business logs. Nil discards them.
	Logger *logging.Logger

	// Registry collects metrics. Nil creates a private registry.
	Registry *prometheus.Registry

	// Now is the clock used for tokens and timestamps. Nil uses time.Now.
	Now func() time.Time
}

// DefaultConfig returns the settings `devbackend serve` starts with.
func DefaultConfig() Config {
	return Config{
		TokenTTL:       time.Hour,
		StarterCredits: 3,
		MaxUploadBytes: 10 << 20,
	}
}

// Server is an assembled backend.
type Server struct {
	// Router serves /health, /metrics and /api.
	Router *gin.Engine

	// Store exposes state to tests, e.g. to force a balance.
	Store *store.Store

	// Issuer mints tokens; tests use it to craft expired sessions.
	Issuer *auth.Issuer

	Registry *prometheus.Registry
}

// New builds a Server from cfg.
//
// # Outputs
//
//   - *Server: ready to serve
//   - error: invalid token settings or secret generation failure
func New(cfg Config) (*Server, error) {
	secret := cfg.JWTSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
		}
	}
	issuer, err := auth.NewIssuer(secret, cfg.TokenTTL, cfg.Now)
	if err != nil {
		return nil, err
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := observability.NewMetrics(reg)

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	st := store.New(cfg.Now)
	h := handlers.New(st, issuer, metrics, logger, handlers.Config{
		StarterCredits: cfg.StarterCredits,
		BcryptCost:     cfg.BcryptCost,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(metrics.Middleware())
	router.Use(requestLogger(logger))
	routes.SetupRoutes(router, h, issuer, reg)

	return &Server{Router: router, Store: st, Issuer: issuer, Registry: reg}, nil
}

// requestLogger logs one debug line per request, tagged with the
// caller's trace id when the CLI sent one.
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		callerTrace := telemetry.CallerTraceID(c.Request)
		c.Next()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if callerTrace != "" {
			args = append(args, "trace_id", callerTrace)
		}
		logger.Debug("request", args...)
	}
}
