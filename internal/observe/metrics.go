// Package observe provides application-wide observability primitives for
// clearmic: OpenTelemetry metrics, tracing, and structured logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all clearmic metrics.
const meterName = "github.com/clearmic/clearmic"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CallbackDuration tracks the time spent processing one capture
	// callback through the whole enhancement chain.
	CallbackDuration metric.Float64Histogram

	// StageDuration tracks the cumulative processing time one session spent
	// in each stage, published at session end. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// RecordingDuration tracks the length of completed recordings.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// Recordings counts finished recording sessions. Use with attribute:
	//   attribute.String("outcome", ...) — one of "stopped", "cancelled", "error".
	Recordings metric.Int64Counter

	// DroppedSamples counts samples discarded because the capture buffer
	// overflowed.
	DroppedSamples metric.Int64Counter

	// LimitedSamples counts samples attenuated by the output soft limiter.
	LimitedSamples metric.Int64Counter

	// --- Error counters ---

	// StageErrors counts contained per-stage processing failures. Use with
	// attribute: attribute.String("stage", ...)
	StageErrors metric.Int64Counter

	// DeviceReconnects counts capture device reconnect attempts. Use with
	// attribute: attribute.String("status", ...) — "ok" or "failed".
	DeviceReconnects metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions. With a
	// single coordinator this is 0 or 1.
	ActiveSessions metric.Int64UpDownCounter
}

// callbackBuckets defines histogram bucket boundaries (in seconds) sized for
// per-callback DSP work, which must stay well under the callback interval.
var callbackBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// recordingBuckets covers typical dictation lengths.
var recordingBuckets = []float64{
	1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// stageBuckets covers cumulative per-stage DSP time over one session, which
// stays far below the recording length.
var stageBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CallbackDuration, err = m.Float64Histogram("clearmic.callback.duration",
		metric.WithDescription("Time spent processing one capture callback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callbackBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("clearmic.stage.duration",
		metric.WithDescription("Cumulative per-session processing time by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("clearmic.recording.duration",
		metric.WithDescription("Length of completed recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Recordings, err = m.Int64Counter("clearmic.recordings",
		metric.WithDescription("Total finished recording sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DroppedSamples, err = m.Int64Counter("clearmic.dropped_samples",
		metric.WithDescription("Samples discarded due to capture buffer overflow."),
	); err != nil {
		return nil, err
	}
	if met.LimitedSamples, err = m.Int64Counter("clearmic.limited_samples",
		metric.WithDescription("Samples attenuated by the output soft limiter."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StageErrors, err = m.Int64Counter("clearmic.stage.errors",
		metric.WithDescription("Contained per-stage processing failures by stage name."),
	); err != nil {
		return nil, err
	}
	if met.DeviceReconnects, err = m.Int64Counter("clearmic.device.reconnects",
		metric.WithDescription("Capture device reconnect attempts by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("clearmic.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStageError records a contained stage failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	m.StageErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordRecording records a finished recording session with its outcome and
// duration in seconds.
func (m *Metrics) RecordRecording(ctx context.Context, outcome string, seconds float64) {
	m.Recordings.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.RecordingDuration.Record(ctx, seconds)
}

// RecordStageTime records one stage's cumulative processing time for a
// finished session.
func (m *Metrics) RecordStageTime(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordReconnect records a capture device reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.DeviceReconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
