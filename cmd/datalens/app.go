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
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/datalens/cmd/datalens/config"
	"github.com/AleutianAI/datalens/pkg/api"
	"github.com/AleutianAI/datalens/pkg/credits"
	"github.com/AleutianAI/datalens/pkg/credstore"
	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/gateway"
	"github.com/AleutianAI/datalens/pkg/guard"
	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/AleutianAI/datalens/pkg/session"
	"github.com/AleutianAI/datalens/pkg/telemetry"
	"github.com/AleutianAI/datalens/pkg/workflow"
)

// streams are the process's standard files. Tests substitute buffers.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// BackendOpener opens the durable side of the credential store.
type BackendOpener func(cfg config.Config, logger *logging.Logger) (credstore.Backend, error)

func openBadgerBackend(cfg config.Config, logger *logging.Logger) (credstore.Backend, error) {
	bcfg := credstore.DefaultBadgerConfig(cfg.Credentials.Path)
	bcfg.Logger = logger.Slog()
	return credstore.OpenBadger(bcfg)
}

// app is the object graph behind every command: one gateway, one
// session, one ledger and one navigator per process.
type app struct {
	cfg       config.Config
	logger    *logging.Logger
	store     *credstore.Store
	gateway   *gateway.Gateway
	client    *api.Client
	session   *session.Manager
	ledger    *credits.Ledger
	navigator *workflow.Navigator
	guard     *guard.Guard

	shutdownTelemetry func(context.Context) error
	stopWatch         func()

	mu          sync.Mutex
	lastBalance *int64
}

// newApp wires the client stack.
//
// # Description
//
// The session manager watches the gateway for 401 responses, the guard
// reads the session, and the navigator refreshes the balance through
// the ledger after every analysis that reached the backend.
//
// # Outputs
//
//   - *app: ready to serve one command; Close releases it
//   - error: telemetry, credential store or gateway setup failure
func newApp(ctx context.Context, cfg config.Config, logger *logging.Logger, errOut io.Writer, open BackendOpener) (*app, error) {
	telCfg := cfg.Telemetry
	telCfg.Writer = errOut
	shutdown, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	backend, err := open(cfg, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open credential store at %s: %w", cfg.Credentials.Path, err)
	}
	store, err := credstore.Open(backend, logger.With("component", "credstore"))
	if err != nil {
		_ = backend.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	timeout := cfg.API.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	gw, err := gateway.New(gateway.Config{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Tokens:     store,
		Logger:     logger.With("component", "gateway"),
		UserAgent:  "datalens-cli/" + version,
	})
	if err != nil {
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	a := &app{
		cfg:               cfg,
		logger:            logger,
		store:             store,
		gateway:           gw,
		client:            api.New(gw),
		shutdownTelemetry: shutdown,
	}
	a.session = session.New(a.client, store, session.WithLogger(logger.With("component", "session")))
	a.stopWatch = a.session.Watch(gw)
	a.ledger = credits.New(a.client)
	a.navigator = workflow.NewNavigator(a.client,
		workflow.WithLogger(logger.With("component", "workflow")),
		workflow.WithCreditRefresh(a.refreshBalance),
	)
	a.guard = guard.New(a.session)
	return a, nil
}

// Close stops watching the gateway, closes the credential store and
// flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	a.stopWatch()
	err := a.store.Close()
	if terr := a.shutdownTelemetry(ctx); terr != nil {
		err = errors.Join(err, terr)
	}
	return err
}

func (a *app) refreshBalance(ctx context.Context) {
	balance, err := a.ledger.Balance(ctx)
	if err != nil {
		a.logger.Warn("refresh balance after analysis", "error", err)
		return
	}
	a.mu.Lock()
	a.lastBalance = &balance
	a.mu.Unlock()
}

// balance returns the balance fetched by the last credit refresh.
func (a *app) balance() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastBalance == nil {
		return 0, false
	}
	return *a.lastBalance, true
}

// requireSession resumes the stored session and checks that route may be
// shown.
func (a *app) requireSession(ctx context.Context, route string) (*datatypes.User, error) {
	a.session.Start(ctx)
	out, err := a.guard.Await(ctx, route)
	if err != nil {
		return nil, err
	}
	if out.Decision == guard.Redirect {
		return nil, &redirectError{route: route, location: out.Location, expired: out.Expired}
	}
	return a.session.User(), nil
}
