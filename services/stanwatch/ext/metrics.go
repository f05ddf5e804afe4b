// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ext

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("stanwatch.ext")

const metricsNamespace = "stanwatch"

// Run outcomes used as the outcome label.
const (
	OutcomeSuccess     = "success"
	OutcomeSuperseded  = "superseded"
	OutcomeSpawnError  = "spawn_error"
	OutcomeParseError  = "parse_error"
	OutcomeInterrupted = "interrupted"
)

// Metrics holds the Prometheus collectors of the orchestrator.
//
// A nil *Metrics records nothing.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// Runs counts finished analysis runs. Labels: outcome.
	Runs *prometheus.CounterVec

	// Duration measures analysis wall time.
	Duration prometheus.Histogram

	// Published is the number of diagnostics currently published.
	Published prometheus.Gauge

	// Active is 1 while an analysis process is alive.
	Active prometheus.Gauge

	// WatcherEvents counts file events. Labels: watcher (source, config), op.
	WatcherEvents *prometheus.CounterVec

	// Commands counts command invocations. Labels: command, status.
	Commands *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_runs_total",
			Help:      "Finished analysis runs by outcome",
		}, []string{"outcome"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of analysis runs",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		Published: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "diagnostics_published",
			Help:      "Diagnostics currently published",
		}),
		Active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_active",
			Help:      "Analysis processes currently running",
		}),
		WatcherEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "watcher_events_total",
			Help:      "File watcher events by watcher and operation",
		}, []string{"watcher", "op"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "command_invocations_total",
			Help:      "Command invocations by command and status",
		}, []string{"command", "status"}),
	}
}

func (m *Metrics) run(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.Duration.Observe(d.Seconds())
	}
}

func (m *Metrics) active(delta float64) {
	if m == nil {
		return
	}
	m.Active.Add(delta)
}

func (m *Metrics) published(n int) {
	if m == nil {
		return
	}
	m.Published.Set(float64(n))
}

func (m *Metrics) watcherEvent(watcher, op string) {
	if m == nil {
		return
	}
	m.WatcherEvents.WithLabelValues(watcher, op).Inc()
}

func (m *Metrics) command(name string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Commands.WithLabelValues(name, status).Inc()
}

// startRunSpan creates a span for one analysis run.
func startRunSpan(ctx context.Context, runID string, paths []string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Ext.Analyse",
		trace.WithAttributes(
			attribute.String("stanwatch.run_id", runID),
			attribute.StringSlice("stanwatch.paths", paths),
		),
	)
}

// startCommandSpan creates a span for one command invocation.
func startCommandSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Ext.Command",
		trace.WithAttributes(attribute.String("stanwatch.command", name)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
