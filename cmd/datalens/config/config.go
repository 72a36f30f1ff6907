// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the datalens CLI configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/datalens/pkg/gateway"
	"github.com/AleutianAI/datalens/pkg/telemetry"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAPIURL          = "DATALENS_API_URL"
	EnvLogLevel        = "DATALENS_LOG_LEVEL"
	EnvCredentialsPath = "DATALENS_CREDENTIALS_PATH"
)

// DirName is the per-user directory holding the config file and, by
// default, the credential database.
const DirName = ".datalens"

// FileName is the config file inside DirName.
const FileName = "datalens.yaml"

// Config is the on-disk layout of datalens.yaml.
type Config struct {
	API         APIConfig        `yaml:"api"`
	Credentials CredentialConfig `yaml:"credentials"`
	Logging     LoggingConfig    `yaml:"logging"`
	Telemetry   telemetry.Config `yaml:"telemetry"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CredentialConfig struct {
	// Path is the badger directory. A leading ~ expands to the home
	// directory.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	Dir   string `yaml:"dir"`   // empty disables file logging
}

// Default returns the built-in configuration.
func Default() Config {
	tel := telemetry.DefaultConfig("datalens")
	return Config{
		API: APIConfig{
			BaseURL: gateway.DefaultBaseURL,
			Timeout: 2 * time.Minute,
		},
		Credentials: CredentialConfig{Path: "~/" + DirName + "/credentials"},
		Logging:     LoggingConfig{Level: "warn"},
		Telemetry:   tel,
	}
}

// DefaultPath returns ~/.datalens/datalens.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, DirName, FileName), nil
}

// Load builds the configuration from defaults, the file at path, a .env
// file in the working directory and the process environment, in that
// order. A missing file is created with the defaults.
//
// # Inputs
//
//   - path: config file; empty means DefaultPath()
//
// # Outputs
//
//   - Config: merged configuration with ~ expanded in paths
//   - bool: true when the file was created by this call
//   - error: unreadable or malformed file
func Load(path string) (Config, bool, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, false, err
		}
		path = p
	}

	cfg := Default()
	created := false
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := createDefault(path); err != nil {
			return Config{}, false, err
		}
		created = true
	case err != nil:
		return Config{}, false, fmt.Errorf("failed to read the config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, false, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	// A missing .env is normal; Load never overrides variables that are
	// already set in the environment.
	_ = godotenv.Load()
	applyEnv(&cfg)

	cfg.Credentials.Path = ExpandHome(cfg.Credentials.Path)
	cfg.Logging.Dir = ExpandHome(cfg.Logging.Dir)
	cfg.Telemetry.ServiceName = "datalens"
	return cfg, created, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCredentialsPath)); v != "" {
		cfg.Credentials.Path = v
	}
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
