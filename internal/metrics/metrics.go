// Package metrics records Paavo's OpenTelemetry instruments and exposes
// them for Prometheus scraping. Every method is safe on a nil *Metrics so
// components can run without telemetry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/paavoai/paavo"

// Buckets in seconds. Local LLM calls range from a few hundred
// milliseconds to the 30 second gateway timeout.
var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

// Metrics holds the instruments.
type Metrics struct {
	// Turns counts finished turns by topic and outcome.
	Turns metric.Int64Counter
	// TurnDuration is the wall time of a whole turn.
	TurnDuration metric.Float64Histogram
	// GatewayRequests counts model calls by status (ok or the gateway
	// error kind).
	GatewayRequests metric.Int64Counter
	// GatewayDuration is the latency of a model call.
	GatewayDuration metric.Float64Histogram
	// DeviceCalls counts device operations by operation and status.
	DeviceCalls metric.Int64Counter
	// PoolWait is how long a job waited for a worker slot.
	PoolWait metric.Float64Histogram
}

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	out := &Metrics{}
	var err error

	if out.Turns, err = m.Int64Counter("paavo.turns",
		metric.WithDescription("Completed conversation turns by topic and outcome."),
	); err != nil {
		return nil, err
	}
	if out.TurnDuration, err = m.Float64Histogram("paavo.turn.duration",
		metric.WithDescription("Wall time of a conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if out.GatewayRequests, err = m.Int64Counter("paavo.gateway.requests",
		metric.WithDescription("Ollama generate calls by status."),
	); err != nil {
		return nil, err
	}
	if out.GatewayDuration, err = m.Float64Histogram("paavo.gateway.duration",
		metric.WithDescription("Latency of Ollama generate calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if out.DeviceCalls, err = m.Int64Counter("paavo.device.calls",
		metric.WithDescription("Home Assistant device operations by operation and status."),
	); err != nil {
		return nil, err
	}
	if out.PoolWait, err = m.Float64Histogram("paavo.pool.wait",
		metric.WithDescription("Time spent waiting for a worker slot."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordTurn counts one finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, topic, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("outcome", outcome),
	))
	m.TurnDuration.Record(ctx, elapsed.Seconds())
}

// RecordGateway counts one model call.
func (m *Metrics) RecordGateway(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.GatewayRequests.Add(ctx, 1, attrs)
	m.GatewayDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDevice counts one device operation.
func (m *Metrics) RecordDevice(ctx context.Context, operation string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.DeviceCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

// RecordPoolWait records a worker slot wait.
func (m *Metrics) RecordPoolWait(ctx context.Context, waited time.Duration) {
	if m == nil {
		return
	}
	m.PoolWait.Record(ctx, waited.Seconds())
}

// Provider is a MeterProvider exporting to the default Prometheus
// registry.
type Provider struct {
	*sdkmetric.MeterProvider
}

// NewPrometheusProvider builds the exporting provider.
func NewPrometheusProvider() (*Provider, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	return &Provider{sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))}, nil
}

// Handler serves the Prometheus text exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}
