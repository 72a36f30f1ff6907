// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"
	"time"

	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCmd_Defaults(t *testing.T) {
	cmd := newServeCmd()

	port, err := cmd.Flags().GetInt("port")
	require.NoError(t, err)
	credits, err := cmd.Flags().GetInt64("starter-credits")
	require.NoError(t, err)
	ttl, err := cmd.Flags().GetDuration("token-ttl")
	require.NoError(t, err)

	assert.Equal(t, 8080, port)
	assert.Equal(t, int64(3), credits)
	assert.Equal(t, time.Hour, ttl)
}

func TestBuildConfig(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := serveOptions{port: 9090, starterCredits: 5, tokenTTL: time.Minute, maxUploadBytes: 1024}

	t.Run("applies flags and secret", func(t *testing.T) {
		t.Setenv("DEVBACKEND_JWT_SECRET", "s3cret")
		cfg, err := buildConfig(opts, logging.Discard(), reg)
		require.NoError(t, err)
		assert.Equal(t, int64(5), cfg.StarterCredits)
		assert.Equal(t, time.Minute, cfg.TokenTTL)
		assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
		assert.Equal(t, []byte("s3cret"), cfg.JWTSecret)
		assert.Same(t, reg, cfg.Registry)
	})

	t.Run("random secret without env", func(t *testing.T) {
		t.Setenv("DEVBACKEND_JWT_SECRET", "")
		cfg, err := buildConfig(opts, logging.Discard(), reg)
		require.NoError(t, err)
		assert.Empty(t, cfg.JWTSecret)
	})

	t.Run("rejects bad port", func(t *testing.T) {
		bad := opts
		bad.port = 70000
		_, err := buildConfig(bad, logging.Discard(), reg)
		assert.Error(t, err)
	})

	t.Run("rejects negative credits", func(t *testing.T) {
		bad := opts
		bad.starterCredits = -1
		_, err := buildConfig(bad, logging.Discard(), reg)
		assert.Error(t, err)
	})
}

func TestRootCmd_HasServe(t *testing.T) {
	root := newRootCmd()

	cmd, _, err := root.Find([]string{"serve"})

	require.NoError(t, err)
	assert.Equal(t, "serve", cmd.Name())
}
