// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the development
// backend.
//
// # Description
//
// Metrics include request counters and latency per route, sign-in
// outcomes, analysis outcomes and credit movements. They are exposed on
// /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "datalens"

const devbackendSubsystem = "devbackend"

// Metrics holds the backend's collectors.
type Metrics struct {
	// RequestsTotal counts requests.
	// Labels: route (gin full path), method, status
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures handler latency.
	// Labels: route, method
	RequestDurationSeconds *prometheus.HistogramVec

	// AuthTotal counts sign-in attempts.
	// Labels: action (login, register, refresh), outcome (success, rejected)
	AuthTotal *prometheus.CounterVec

	// AnalysesTotal counts analyze calls.
	// Labels: outcome (success, insufficient_credit, unsupported, error)
	AnalysesTotal *prometheus.CounterVec

	// CreditsTotal counts credit movements.
	// Labels: direction (debit, topup)
	CreditsTotal *prometheus.CounterVec

	// UploadBytesTotal counts stored upload bytes.
	UploadBytesTotal prometheus.Counter
}

// NewMetrics creates and registers all collectors with reg.
//
// # Inputs
//
//   - reg: registry to register with; tests pass a private
//     prometheus.NewRegistry() so instances never collide
//
// # Limitations
//
//   - Panics if the same registry is used twice (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: devbackendSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: devbackendSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP handler latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route", "method"},
		),
		AuthTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: devbackendSubsystem,
				Name:      "auth_total",
				Help:      "Sign-in attempts by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: devbackendSubsystem,
				Name:      "analyses_total",
				Help:      "Analyze calls by outcome",
			},
			[]string{"outcome"},
		),
		CreditsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: devbackendSubsystem,
				Name:      "credits_total",
				Help:      "Credits moved by direction",
			},
			[]string{"direction"},
		),
		UploadBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: devbackendSubsystem,
				Name:      "upload_bytes_total",
				Help:      "Bytes accepted by the upload endpoint",
			},
		),
	}
}

// Middleware records RequestsTotal and RequestDurationSeconds. Unmatched
// routes are labelled "unmatched" to bound cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// RecordAuth counts one sign-in attempt.
func (m *Metrics) RecordAuth(action string, ok bool) {
	outcome := "rejected"
	if ok {
		outcome = "success"
	}
	m.AuthTotal.WithLabelValues(action, outcome).Inc()
}

// RecordAnalysis counts one analyze call.
func (m *Metrics) RecordAnalysis(outcome string) {
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
}

// RecordCredits counts a credit movement of amount (always positive).
func (m *Metrics) RecordCredits(direction string, amount int64) {
	m.CreditsTotal.WithLabelValues(direction).Add(float64(amount))
}
