// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/AleutianAI/datalens/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var (
	spanRecorder = tracetest.NewSpanRecorder()
	metricReader = sdkmetric.NewManualReader()
)

func TestMain(m *testing.M) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader)))
	if _, err := telemetry.Init(context.Background(), telemetry.DefaultConfig("gateway-test")); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// staticTokens is a TokenSource with a fixed value.
type staticTokens struct {
	token string
}

func (s staticTokens) AccessToken() (string, bool) {
	return s.token, s.token != ""
}

func newTestGateway(t *testing.T, handler http.HandlerFunc, tokens TokenSource) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gw, err := New(Config{BaseURL: server.URL + "/api", Tokens: tokens})
	require.NoError(t, err)
	return gw
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_DefaultsAndValidation(t *testing.T) {
	gw, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, gw.BaseURL())

	gw, err = New(Config{BaseURL: "https://example.com/api/"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api", gw.BaseURL())

	for _, bad := range []string{"localhost:8080", "ftp://example.com", "http://"} {
		_, err := New(Config{BaseURL: bad})
		assert.Error(t, err, bad)
	}
}

// =============================================================================
// Auth Injection
// =============================================================================

func TestSend_AttachesBearerToken(t *testing.T) {
	var gotAuth, gotRequestID string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get(RequestIDHeader)
		assert.Equal(t, "/api/user/me", r.URL.Path)
		w.Write([]byte(`{"id":1}`))
	}, staticTokens{token: "tok1"})

	_, err := gw.Send(context.Background(), Request{Op: "user.me", Method: http.MethodGet, Path: "/user/me"})

	require.NoError(t, err)
	assert.Equal(t, "Bearer tok1", gotAuth)
	assert.Len(t, gotRequestID, 36)
}

func TestSend_WithoutTokenIsUnauthenticated(t *testing.T) {
	var hadAuth bool
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		w.WriteHeader(http.StatusNoContent)
	}, staticTokens{})

	_, err := gw.Send(context.Background(), Request{Op: "auth.login", Method: http.MethodPost, Path: "/auth/login"})

	require.NoError(t, err)
	assert.False(t, hadAuth)
}

func TestSend_RequestIDIsFreshPerCall(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get(RequestIDHeader)] = true
		mu.Unlock()
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := gw.Send(context.Background(), Request{Op: "files.list", Method: http.MethodGet, Path: "/files/my"})
		require.NoError(t, err)
	}
	assert.Len(t, seen, 3)
}

// =============================================================================
// Payloads
// =============================================================================

func TestSend_JSONBody(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"amount":5}`, string(body))
		w.Write([]byte(`{"balance":8}`))
	}, nil)

	resp, err := gw.Send(context.Background(), Request{
		Op: "credits.add", Method: http.MethodPost, Path: "/credits/add",
		Body: JSON(map[string]int{"amount": 5}),
	})
	require.NoError(t, err)

	var out struct{ Balance int }
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, 8, out.Balance)
}

func TestSend_FileBody(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		assert.Equal(t, "sales.csv", header.Filename)
		assert.Equal(t, "a,b\n1,2\n", string(content))
		w.Write([]byte(`{"id":9}`))
	}, nil)

	_, err := gw.Send(context.Background(), Request{
		Op: "files.upload", Method: http.MethodPost, Path: "/files/upload",
		Body: File("file", "sales.csv", strings.NewReader("a,b\n1,2\n")),
	})
	require.NoError(t, err)
}

func TestResponse_BinaryAndFilename(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		w.Write([]byte{0x25, 0x50, 0x44, 0x46})
	}, nil)

	resp, err := gw.Send(context.Background(), Request{Op: "files.download", Method: http.MethodGet, Path: "/files/download/1"})

	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), resp.Body)
	assert.Equal(t, "report.pdf", resp.Filename())
}

func TestResponse_DecodeFailureIsUnknown(t *testing.T) {
	resp := &Response{Op: "files.list", Status: 200, Body: []byte("<html>")}
	var out []int
	err := resp.Decode(&out)

	assert.ErrorIs(t, err, apierr.ErrUnknown)
}

// =============================================================================
// Normalization
// =============================================================================

func TestSend_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
	}{
		{"not found", 404, `{"message":"file not found"}`, apierr.ErrNotFound, "file not found"},
		{"insufficient credit", 402, `{"message":"insufficient credit"}`, apierr.ErrBusiness, "insufficient credit"},
		{"forbidden", 403, `{"error":"forbidden"}`, apierr.ErrBusiness, "forbidden"},
		{"conflict plain text", 409, "email already registered", apierr.ErrBusiness, "email already registered"},
		{"server error html", 500, "<html>boom</html>", apierr.ErrUnknown, "unexpected error"},
		{"bad gateway empty", 502, "", apierr.ErrUnknown, "unexpected error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)

			resp, err := gw.Send(context.Background(), Request{Op: "probe", Method: http.MethodGet, Path: "/x"})

			assert.Nil(t, resp)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.message, apierr.MessageOf(err))

			var apiErr *apierr.Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "probe", apiErr.Op)
		})
	}
}

func TestSend_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	gw, err := New(Config{BaseURL: url})
	require.NoError(t, err)

	_, err = gw.Send(context.Background(), Request{Op: "user.me", Method: http.MethodGet, Path: "/user/me"})

	assert.ErrorIs(t, err, apierr.ErrNetwork)
	assert.Equal(t, "backend unreachable", apierr.MessageOf(err))
}

func TestSend_UnauthorizedNotifiesEachListenerOnce(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, staticTokens{token: "stale"})

	var first, second atomic.Int32
	var gotOp string
	gw.OnUnauthorized(func(op string) {
		first.Add(1)
		gotOp = op
	})
	remove := gw.OnUnauthorized(func(string) { second.Add(1) })

	_, err := gw.Send(context.Background(), Request{Op: "files.list", Method: http.MethodGet, Path: "/files/my"})

	assert.ErrorIs(t, err, apierr.ErrAuthorization)
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())
	assert.Equal(t, "files.list", gotOp)

	remove()
	_, _ = gw.Send(context.Background(), Request{Op: "files.list", Method: http.MethodGet, Path: "/files/my"})
	assert.Equal(t, int32(2), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestSend_OtherFailuresDoNotNotify(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, nil)
	var called bool
	gw.OnUnauthorized(func(string) { called = true })

	_, err := gw.Send(context.Background(), Request{Op: "probe", Method: http.MethodGet, Path: "/x"})

	assert.Error(t, err)
	assert.False(t, called)
}

func TestSend_OnePhysicalCallPerRequest(t *testing.T) {
	var hits atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil)

	_, err := gw.Send(context.Background(), Request{Op: "probe", Method: http.MethodGet, Path: "/x"})

	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

// =============================================================================
// Telemetry
// =============================================================================

func TestSend_PropagatesTraceAndRecordsSpan(t *testing.T) {
	var remoteTraceID trace.TraceID
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		remoteTraceID, _ = trace.TraceIDFromHex(telemetry.CallerTraceID(r))
	}, nil)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "cli.command")
	_, err := gw.Send(ctx, Request{Op: "trace.probe", Method: http.MethodGet, Path: "/x"})
	parent.End()
	require.NoError(t, err)

	assert.Equal(t, parent.SpanContext().TraceID(), remoteTraceID)

	var found bool
	for _, s := range spanRecorder.Ended() {
		if s.Name() == "gateway.trace.probe" {
			found = true
			assert.Equal(t, parent.SpanContext().SpanID(), s.Parent().SpanID())
		}
	}
	assert.True(t, found, "gateway span not recorded")
}

func TestSend_RecordsRequestCounter(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	_, err := gw.Send(context.Background(), Request{Op: "metric.probe", Method: http.MethodGet, Path: "/x"})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, metricReader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "gateway.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				if op, _ := dp.Attributes.Value("op"); op.AsString() == "metric.probe" {
					total += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), total)
}

// =============================================================================
// Helpers
// =============================================================================

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "m", errorMessage([]byte(`{"message":"m","error":"e"}`)))
	assert.Equal(t, "e", errorMessage([]byte(`{"error":"e"}`)))
	assert.Equal(t, "", errorMessage([]byte(`{}`)))
	assert.Equal(t, "plain", errorMessage([]byte("  plain\n")))
	assert.Equal(t, "", errorMessage([]byte(strings.Repeat("x", maxErrorText+1))))
}

func TestFilenameFromDisposition(t *testing.T) {
	assert.Equal(t, "a.csv", filenameFromDisposition(`attachment; filename=a.csv`))
	assert.Equal(t, "", filenameFromDisposition(""))
	assert.Equal(t, "", filenameFromDisposition("attachment"))
}
