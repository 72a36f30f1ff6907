// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the typed client for the file-analysis backend. Each
// method is exactly one gateway call; there is no caching and no retry.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/gateway"
)

// Sender executes one gateway request. *gateway.Gateway satisfies it.
type Sender interface {
	Send(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Client implements session.AuthAPI, workflow.FileAPI and
// credits.LedgerAPI over a Sender.
type Client struct {
	sender Sender
}

// New creates a Client.
func New(sender Sender) *Client {
	return &Client{sender: sender}
}

// Download is a fetched file body.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (c *Client) call(ctx context.Context, op, method, path string, body gateway.Payload, out any) error {
	resp, err := c.sender.Send(ctx, gateway.Request{Op: op, Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// =============================================================================
// Auth and Profile
// =============================================================================

// Register creates an account and returns its tokens.
func (c *Client) Register(ctx context.Context, req datatypes.RegisterRequest) (datatypes.Tokens, error) {
	var out datatypes.AuthResponse
	err := c.call(ctx, "auth.register", http.MethodPost, "/auth/register", gateway.JSON(req), &out)
	return out.Tokens, err
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, req datatypes.LoginRequest) (datatypes.Tokens, error) {
	var out datatypes.AuthResponse
	err := c.call(ctx, "auth.login", http.MethodPost, "/auth/login", gateway.JSON(req), &out)
	return out.Tokens, err
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, req datatypes.RefreshRequest) (datatypes.Tokens, error) {
	var out datatypes.AuthResponse
	err := c.call(ctx, "auth.refresh", http.MethodPost, "/auth/refresh", gateway.JSON(req), &out)
	return out.Tokens, err
}

// Profile fetches the identity behind the current access token.
func (c *Client) Profile(ctx context.Context) (datatypes.User, error) {
	var out datatypes.User
	err := c.call(ctx, "user.me", http.MethodGet, "/user/me", nil, &out)
	return out, err
}

// =============================================================================
// Files
// =============================================================================

// UploadFile sends r as the multipart field "file".
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (datatypes.UploadedFile, error) {
	var out datatypes.UploadedFile
	err := c.call(ctx, "files.upload", http.MethodPost, "/files/upload", gateway.File("file", name, r), &out)
	return out, err
}

// ListFiles returns the caller's files in backend order.
func (c *Client) ListFiles(ctx context.Context) ([]datatypes.UploadedFile, error) {
	var out []datatypes.UploadedFile
	err := c.call(ctx, "files.list", http.MethodGet, "/files/my", nil, &out)
	return out, err
}

// DeleteFile removes a file.
func (c *Client) DeleteFile(ctx context.Context, fileID int64) error {
	return c.call(ctx, "files.delete", http.MethodDelete, fmt.Sprintf("/files/%d", fileID), nil, nil)
}

// DownloadFile fetches the raw file body.
func (c *Client) DownloadFile(ctx context.Context, fileID int64) (Download, error) {
	resp, err := c.sender.Send(ctx, gateway.Request{
		Op:     "files.download",
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/files/download/%d", fileID),
	})
	if err != nil {
		return Download{}, err
	}
	return Download{
		Filename:    resp.Filename(),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        resp.Body,
	}, nil
}

// Preview returns the file's columns and sample rows.
func (c *Client) Preview(ctx context.Context, fileID int64) (datatypes.FilePreview, error) {
	var out datatypes.FilePreview
	err := c.call(ctx, "files.preview", http.MethodGet, fmt.Sprintf("/files/%d/preview", fileID), nil, &out)
	return out, err
}

// =============================================================================
// Mappings
// =============================================================================

// ListMappings returns the file's mappings in creation order.
func (c *Client) ListMappings(ctx context.Context, fileID int64) ([]datatypes.ColumnMapping, error) {
	var out []datatypes.ColumnMapping
	err := c.call(ctx, "mapping.list", http.MethodGet, fmt.Sprintf("/files/%d/mapping", fileID), nil, &out)
	return out, err
}

// CreateMapping adds one mapping. The response body is not used; callers
// re-fetch the list.
func (c *Client) CreateMapping(ctx context.Context, fileID int64, req datatypes.CreateMappingRequest) error {
	return c.call(ctx, "mapping.create", http.MethodPost, fmt.Sprintf("/files/%d/mapping", fileID), gateway.JSON(req), nil)
}

// UpdateMapping changes the target field of one mapping.
func (c *Client) UpdateMapping(ctx context.Context, fileID, mappingID int64, req datatypes.UpdateMappingRequest) error {
	path := fmt.Sprintf("/files/%d/mapping/%d", fileID, mappingID)
	return c.call(ctx, "mapping.update", http.MethodPut, path, gateway.JSON(req), nil)
}

// DeleteMappings removes every mapping of the file.
func (c *Client) DeleteMappings(ctx context.Context, fileID int64) error {
	return c.call(ctx, "mapping.clear", http.MethodDelete, fmt.Sprintf("/files/%d/mapping", fileID), nil, nil)
}

// =============================================================================
// Credits and Analysis
// =============================================================================

// Balance reads the current credit balance.
func (c *Client) Balance(ctx context.Context) (datatypes.CreditBalance, error) {
	var out datatypes.CreditBalance
	err := c.call(ctx, "credits.balance", http.MethodGet, "/credits/my", nil, &out)
	return out, err
}

// History reads the credit history in backend order.
func (c *Client) History(ctx context.Context) ([]datatypes.CreditHistoryEntry, error) {
	var out []datatypes.CreditHistoryEntry
	err := c.call(ctx, "credits.history", http.MethodGet, "/credits/history", nil, &out)
	return out, err
}

// TopUp asks the backend to add credits. Whatever the backend returns is
// ignored; the balance must be re-read.
func (c *Client) TopUp(ctx context.Context, req datatypes.TopUpRequest) error {
	return c.call(ctx, "credits.add", http.MethodPost, "/credits/add", gateway.JSON(req), nil)
}

// Analyze runs the paid analysis for a file.
func (c *Client) Analyze(ctx context.Context, fileID int64) (datatypes.AnalysisResult, error) {
	var out datatypes.AnalysisResult
	err := c.call(ctx, "ai.analyze", http.MethodPost, fmt.Sprintf("/ai/%d/analyze", fileID), nil, &out)
	return out, err
}
