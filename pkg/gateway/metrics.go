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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for gateway calls.
var (
	tracer = otel.Tracer("datalens.gateway")
	meter  = otel.Meter("datalens.gateway")
)

var (
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestsTotal, err = meter.Int64Counter(
			"gateway.requests",
			metric.WithDescription("Backend calls by operation and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestDuration, err = meter.Float64Histogram(
			"gateway.request.duration",
			metric.WithDescription("Duration of backend calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRequest records one finished call. outcome is "ok" or the
// lower-case error kind.
func recordRequest(ctx context.Context, op, outcome string, status int, elapsed time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
		attribute.Int("http.status_code", status),
	)
	requestsTotal.Add(ctx, 1, attrs)
	requestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func startSpan(ctx context.Context, req Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "gateway."+req.Op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.route", req.Path),
		),
	)
}

func endSpan(span trace.Span, status int, err error) {
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
