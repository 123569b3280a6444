// Package observe provides application-wide observability primitives for
// the voice bridge: OpenTelemetry metrics and the Prometheus exporter
// bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/rentline/voicebridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per call-setup stage ---

	// ResolveDuration tracks caller-context resolution latency.
	ResolveDuration metric.Float64Histogram

	// ConnectDuration tracks agent credential fetch plus connect latency.
	ConnectDuration metric.Float64Histogram

	// CallDuration tracks full call duration from start to closed.
	CallDuration metric.Float64Histogram

	// --- Counters ---

	// FramesRelayed counts audio frames forwarded. Use with attribute:
	//   attribute.String("direction", "uplink"|"downlink")
	FramesRelayed metric.Int64Counter

	// FramesDropped counts frames dropped by the queue or on decode failure.
	// Use with attributes:
	//   attribute.String("direction", ...), attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// CallsStarted counts call sessions that received a start event.
	CallsStarted metric.Int64Counter

	// ConnectFailures counts agent sessions that never reached streaming.
	ConnectFailures metric.Int64Counter

	// PostCallFailures counts failed post-call notifications.
	PostCallFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// call-setup stages.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for full call
// durations.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolveDuration, err = m.Float64Histogram("voicebridge.resolve.duration",
		metric.WithDescription("Latency of caller-context resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voicebridge.connect.duration",
		metric.WithDescription("Latency of agent credential fetch and connect."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("voicebridge.call.duration",
		metric.WithDescription("Full call duration from start event to closed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesRelayed, err = m.Int64Counter("voicebridge.frames.relayed",
		metric.WithDescription("Total audio frames forwarded by direction."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicebridge.frames.dropped",
		metric.WithDescription("Total audio frames dropped by direction and reason."),
	); err != nil {
		return nil, err
	}
	if met.CallsStarted, err = m.Int64Counter("voicebridge.calls.started",
		metric.WithDescription("Total call sessions that received a start event."),
	); err != nil {
		return nil, err
	}
	if met.ConnectFailures, err = m.Int64Counter("voicebridge.connect.failures",
		metric.WithDescription("Total agent connect attempts that failed before streaming."),
	); err != nil {
		return nil, err
	}
	if met.PostCallFailures, err = m.Int64Counter("voicebridge.postcall.failures",
		metric.WithDescription("Total failed post-call notifications."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("voicebridge.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordFrame records one forwarded frame for the given direction.
func (m *Metrics) RecordFrame(ctx context.Context, direction string) {
	m.FramesRelayed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordDrop records one dropped frame for the given direction and reason.
func (m *Metrics) RecordDrop(ctx context.Context, direction, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("reason", reason),
		))
}

// RecordStageDuration records elapsed time on the given histogram.
func RecordStageDuration(ctx context.Context, h metric.Float64Histogram, start time.Time) {
	h.Record(ctx, time.Since(start).Seconds())
}
