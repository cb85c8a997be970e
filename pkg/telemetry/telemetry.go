// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides the Prometheus metrics and OpenTelemetry spans
// of the decision pipeline.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/stacklok/webguard/pkg/telemetry"

// DecisionDurationBuckets are the histogram buckets of decision latency in
// seconds.
var DecisionDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	decisions       *prometheus.CounterVec
	decisionSeconds *prometheus.HistogramVec
	authentications *prometheus.CounterVec
	authorizations  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webguard_decisions_total",
			Help: "Decisions by reply kind and HTTP status.",
		}, []string{"kind", "status"}),
		decisionSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webguard_decision_duration_seconds",
			Help:    "Time taken to decide a request.",
			Buckets: DecisionDurationBuckets,
		}, []string{"kind"}),
		authentications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webguard_authentications_total",
			Help: "Authentication attempts by credential type and outcome.",
		}, []string{"auth_type", "outcome"}),
		authorizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webguard_authorizations_total",
			Help: "Authorization checks by result.",
		}, []string{"result"}),
	}
}

// ObserveDecision records one decision.
func (m *Metrics) ObserveDecision(kind string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	m.decisionSeconds.WithLabelValues(kind).Observe(took.Seconds())
}

// ObserveAuthentication records one authentication attempt.
func (m *Metrics) ObserveAuthentication(authType, outcome string) {
	if m == nil {
		return
	}
	if authType == "" {
		authType = "none"
	}
	m.authentications.WithLabelValues(authType, outcome).Inc()
}

// ObserveAuthorization records one authorization check.
func (m *Metrics) ObserveAuthorization(granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.authorizations.WithLabelValues(result).Inc()
}

// Tracer returns the pipeline tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a server-side pipeline span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
