// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package telemetry wires the proxy's process-wide gauges to a Prometheus
// exporter behind an OTel meter provider, exposed on the admin HTTP surface's
// /metrics route (SPEC_FULL.md §11).
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Gauges are the snapshot values callbacks report on each /metrics scrape.
// Registered sessions/calls and backend-connected state are point-in-time, so
// they're wired as observable gauges rather than counters.
type Gauges struct {
	InteractiveSessions          func() int64
	InteractiveBackendRegistered func() bool
	TelephonyCalls               func() int64
	TelephonyBackendRegistered   func() bool
}

// Provider owns the OTel meter provider, its Prometheus registry, and the
// /metrics HTTP handler.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	Handler       http.Handler
}

// NewProvider builds a meter provider backed by a dedicated Prometheus
// registry (kept separate from the global default registry so tests can
// construct more than one Provider without collector collisions), registers
// g's observable gauges, and returns the resulting /metrics handler.
func NewProvider(g Gauges) (*Provider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := mp.Meter("github.com/MetaPowerMatrix/streamproxy/internal/telemetry")

	if _, err := meter.Int64ObservableGauge(
		"streamproxy.proxy.sessions",
		metric.WithDescription("Registered /proxy frontend sessions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(g.InteractiveSessions())
			return nil
		}),
	); err != nil {
		return nil, err
	}

	if _, err := meter.Int64ObservableGauge(
		"streamproxy.proxy.backend_registered",
		metric.WithDescription("Whether an ai_backend is currently connected to /proxy (0/1)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(boolToInt64(g.InteractiveBackendRegistered()))
			return nil
		}),
	); err != nil {
		return nil, err
	}

	if _, err := meter.Int64ObservableGauge(
		"streamproxy.call.calls",
		metric.WithDescription("Registered /call freeswitch calls"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(g.TelephonyCalls())
			return nil
		}),
	); err != nil {
		return nil, err
	}

	if _, err := meter.Int64ObservableGauge(
		"streamproxy.call.backend_registered",
		metric.WithDescription("Whether an ai_backend is currently connected to /call (0/1)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(boolToInt64(g.TelephonyBackendRegistered()))
			return nil
		}),
	); err != nil {
		return nil, err
	}

	return &Provider{
		meterProvider: mp,
		Handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Shutdown flushes and releases the meter provider's exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
