// Package metrics holds the OpenTelemetry instruments for the service and
// the Prometheus bridge that backs the /metrics endpoint.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voxd"

// Metrics holds all metric instruments. The OTel instrument types are safe
// for concurrent use.
type Metrics struct {
	// Requests counts API requests. Attributes: endpoint, status.
	Requests metric.Int64Counter

	// InferenceDuration tracks model inference wall time in seconds.
	// Attributes: backend, op.
	InferenceDuration metric.Float64Histogram

	// GateWait tracks time spent queued for the model gate in seconds.
	GateWait metric.Float64Histogram

	// InFlight tracks requests currently holding or waiting for the gate.
	InFlight metric.Int64UpDownCounter
}

// latencyBuckets covers both sub-second gate waits and multi-second model
// inference.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// New creates the instruments on the given provider. Tests pass their own
// provider to avoid cross-test pollution.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Requests, err = m.Int64Counter("voxd.requests",
		metric.WithDescription("Total API requests by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("voxd.inference.duration",
		metric.WithDescription("Model inference latency by backend and operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GateWait, err = m.Float64Histogram("voxd.gate.wait",
		metric.WithDescription("Time spent queued for the model gate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InFlight, err = m.Int64UpDownCounter("voxd.requests.in_flight",
		metric.WithDescription("Requests currently holding or waiting for the gate."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level Metrics built on the global meter
// provider. Panics if instrument creation fails, which the global provider
// never does.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: failed to create default instruments: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRequest increments the request counter for one endpoint outcome.
func (m *Metrics) RecordRequest(ctx context.Context, endpoint, status string) {
	m.Requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	))
}

// RecordInference records one inference duration in seconds.
func (m *Metrics) RecordInference(ctx context.Context, backend, op string, seconds float64) {
	m.InferenceDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
	))
}
