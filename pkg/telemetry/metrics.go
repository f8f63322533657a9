// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/sextant/pkg/errors"
)

// Metrics holds the engine counters. All methods are safe on a nil receiver.
type Metrics struct {
	errors         metric.Int64Counter
	invocations    metric.Int64Counter
	invokeDuration metric.Float64Histogram
	modelCalls     metric.Int64Counter
	fallbacks      metric.Int64Counter
	runs           metric.Int64Counter
	iterations     metric.Int64Histogram
	episodes       metric.Int64Counter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns process-wide metrics bound to the global meter
// provider. It returns nil if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter("sextant"))
		if err == nil {
			defaultMetrics = m
		}
	})
	return defaultMetrics
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.errors, err = meter.Int64Counter("sextant.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.invocations, err = meter.Int64Counter("sextant.capability.invocations",
		metric.WithDescription("Capability invocations by capability and outcome")); err != nil {
		return nil, err
	}
	if m.invokeDuration, err = meter.Float64Histogram("sextant.capability.duration_ms",
		metric.WithDescription("Capability invocation latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.modelCalls, err = meter.Int64Counter("sextant.model.calls",
		metric.WithDescription("Model calls by model and tier")); err != nil {
		return nil, err
	}
	if m.fallbacks, err = meter.Int64Counter("sextant.model.fallbacks",
		metric.WithDescription("Auxiliary to primary model fallbacks")); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("sextant.agent.runs",
		metric.WithDescription("Agent loop runs by terminal status")); err != nil {
		return nil, err
	}
	if m.iterations, err = meter.Int64Histogram("sextant.agent.iterations",
		metric.WithDescription("Iterations consumed per run")); err != nil {
		return nil, err
	}
	if m.episodes, err = meter.Int64Counter("sextant.memory.episodes",
		metric.WithDescription("Episodes recorded by outcome")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordError counts an error against a component.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	if se := errors.AsSextantError(err); se != nil && errors.CodeOf(err) != "" {
		code, recoverable = string(se.Code), se.RecoverableString()
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordInvocation counts a capability call and its latency.
func (m *Metrics) RecordInvocation(ctx context.Context, capability, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrCapabilityName, capability),
		attribute.String("outcome", outcome),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.invokeDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// RecordModelCall counts a model request.
func (m *Metrics) RecordModelCall(ctx context.Context, model, tier string) {
	if m == nil {
		return
	}
	m.modelCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrLLMModel, model),
		attribute.String(AttrModelTier, tier),
	))
}

// RecordFallback counts a degraded model routing decision.
func (m *Metrics) RecordFallback(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(ctx context.Context, status string, iterations int) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRunStatus, status)))
	m.iterations.Record(ctx, int64(iterations))
}

// RecordEpisode counts an episode write.
func (m *Metrics) RecordEpisode(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.episodes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrEpisodeOutcome, outcome)))
}
