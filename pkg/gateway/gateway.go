// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway executes every outbound backend call.
//
// Each call passes through three stages in order:
//
//	auth injection  ->  execution  ->  normalization
//	(bearer token)     (one HTTP      (2xx passes, everything else
//	                    request)       becomes an *apierr.Error)
//
// The gateway never retries and never touches session state. A 401
// response is reported to the listeners registered with OnUnauthorized;
// reacting to it is the listener's job.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/AleutianAI/datalens/pkg/telemetry"
	"github.com/google/uuid"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8080/api"

// RequestIDHeader carries a per-call correlation id.
const RequestIDHeader = "X-Request-ID"

// maxErrorText bounds how much of a non-JSON error body is surfaced.
const maxErrorText = 200

// TokenSource supplies the current access token.
type TokenSource interface {
	AccessToken() (string, bool)
}

// UnauthorizedFunc is called once per call that received HTTP 401.
type UnauthorizedFunc func(op string)

// Config configures a Gateway.
type Config struct {
	// BaseURL is prefixed to every Request.Path.
	BaseURL string

	// HTTPClient defaults to a client with a two minute timeout.
	HTTPClient *http.Client

	// Tokens may be nil, in which case every call is unauthenticated.
	Tokens TokenSource

	Logger    *logging.Logger
	UserAgent string
}

// Request describes one logical backend operation.
type Request struct {
	// Op names the operation for errors, logs, spans and metrics,
	// e.g. "files.list".
	Op string

	Method string

	// Path is relative to the base URL and starts with "/".
	Path string

	// Body is optional.
	Body Payload
}

// Response is a successful (2xx) response.
type Response struct {
	Op     string
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into out. An undecodable body is an
// apierr KindUnknown error.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return apierr.New(apierr.KindUnknown, r.Op, r.Status, "unexpected response from server", err)
	}
	return nil
}

// Filename returns the filename advertised in Content-Disposition.
func (r *Response) Filename() string {
	return filenameFromDisposition(r.Header.Get("Content-Disposition"))
}

// Gateway is safe for concurrent use. Concurrent calls are independent.
type Gateway struct {
	baseURL   string
	client    *http.Client
	tokens    TokenSource
	logger    *logging.Logger
	userAgent string

	mu        sync.Mutex
	listeners []listener
	nextID    uint64
}

type listener struct {
	id uint64
	fn UnauthorizedFunc
}

// New creates a Gateway.
//
// # Inputs
//
//   - cfg: BaseURL must be an absolute http(s) URL when set
//
// # Outputs
//
//   - *Gateway: ready for use
//   - error: non-nil when BaseURL cannot be parsed
func New(cfg Config) (*Gateway, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "datalens"
	}

	return &Gateway{
		baseURL:   base,
		client:    client,
		tokens:    cfg.Tokens,
		logger:    logger.With("component", "gateway"),
		userAgent: userAgent,
	}, nil
}

// BaseURL returns the normalized base URL.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// OnUnauthorized registers fn to be told about 401 responses. The
// returned func removes the registration.
func (g *Gateway) OnUnauthorized(fn UnauthorizedFunc) (remove func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.listeners = append(g.listeners, listener{id: id, fn: fn})

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, l := range g.listeners {
			if l.id == id {
				g.listeners = append(g.listeners[:i:i], g.listeners[i+1:]...)
				return
			}
		}
	}
}

// Send performs exactly one HTTP request.
//
// # Description
//
// Attaches the bearer token when one is stored, a fresh X-Request-ID and
// the caller's trace context, then executes the request. Non-2xx
// responses and transport failures are normalized into *apierr.Error:
//
//	401            -> KindAuthorization (listeners notified first)
//	404            -> KindNotFound
//	other 4xx      -> KindBusiness
//	5xx, other     -> KindUnknown
//	no response    -> KindNetwork
//
// The backend's "message" (or "error") field becomes the error message.
//
// # Inputs
//
//   - ctx: cancels the in-flight request
//   - req: Op, Method and Path are required
//
// # Outputs
//
//   - *Response: only for 2xx responses
//   - error: *apierr.Error
func (g *Gateway) Send(ctx context.Context, req Request) (*Response, error) {
	ctx, span := startSpan(ctx, req)
	start := time.Now()

	resp, err := g.do(ctx, req)

	status := 0
	if resp != nil {
		status = resp.Status
	} else {
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			status = apiErr.Status
		}
	}
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(apierr.KindOf(err).String())
	}
	recordRequest(ctx, req.Op, outcome, status, time.Since(start))
	endSpan(span, status, err)
	return resp, err
}

func (g *Gateway) do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	contentType := ""
	if req.Body != nil {
		var err error
		body, contentType, err = req.Body.encode()
		if err != nil {
			return nil, apierr.New(apierr.KindUnknown, req.Op, 0, "could not encode request", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, g.baseURL+req.Path, body)
	if err != nil {
		return nil, apierr.New(apierr.KindUnknown, req.Op, 0, "could not build request", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set(RequestIDHeader, requestID)
	httpReq.Header.Set("User-Agent", g.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	authenticated := false
	if g.tokens != nil {
		if token, ok := g.tokens.AccessToken(); ok {
			httpReq.Header.Set("Authorization", "Bearer "+token)
			authenticated = true
		}
	}
	telemetry.StampRequest(httpReq)

	log := g.logger.With("op", req.Op, "request_id", requestID)
	log.Debug("backend call", "method", req.Method, "path", req.Path, "token_present", authenticated)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		log.Debug("backend unreachable", "error", err)
		return nil, apierr.Network(req.Op, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apierr.Network(req.Op, fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		log.Debug("backend call succeeded", "status", httpResp.StatusCode, "bytes", len(data))
		return &Response{
			Op:     req.Op,
			Status: httpResp.StatusCode,
			Header: httpResp.Header,
			Body:   data,
		}, nil
	}

	apiErr := apierr.FromStatus(req.Op, httpResp.StatusCode, errorMessage(data))
	if httpResp.StatusCode == http.StatusUnauthorized {
		log.Warn("backend rejected credentials", "token_present", authenticated)
		g.notifyUnauthorized(req.Op)
	} else {
		log.Debug("backend call failed", "status", httpResp.StatusCode, "error", apiErr.Message)
	}
	return nil, apiErr
}

func (g *Gateway) notifyUnauthorized(op string) {
	g.mu.Lock()
	fns := make([]UnauthorizedFunc, len(g.listeners))
	for i, l := range g.listeners {
		fns[i] = l.fn
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(op)
	}
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(body []byte) string {
	var shaped struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &shaped) == nil {
		if shaped.Message != "" {
			return shaped.Message
		}
		return shaped.Error
	}

	text := string(bytes.TrimSpace(body))
	if text == "" || len(text) > maxErrorText || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}
