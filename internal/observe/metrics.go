// Package observe provides application-wide observability primitives for
// Blink: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Blink metrics.
const meterName = "github.com/MrWong99/blink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ProviderDuration tracks Deepgram call latency (stream dial, key
	// minting). Use with attribute.String("kind", ...).
	ProviderDuration metric.Float64Histogram

	// RecordingDuration tracks how long microphone recordings last.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Segments counts recogniser segments folded into transcripts. Use with
	// attribute.String("kind", "partial"|"final").
	Segments metric.Int64Counter

	// Corrections counts dictionary substitutions applied to final segments.
	Corrections metric.Int64Counter

	// DictationsSaved counts dictations persisted from live sessions.
	DictationsSaved metric.Int64Counter

	// EventsPublished counts outgoing events. Use with attributes:
	//   attribute.String("topic", ...), attribute.String("status", ...)
	EventsPublished metric.Int64Counter

	// CircuitTransitions counts circuit breaker state changes. Use with
	// attributes attribute.String("breaker", ...), attribute.String("to", ...)
	CircuitTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open dictation streams.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram

	// HTTPRequests counts handled requests by method, route and status
	// class ("2xx", "4xx", ...).
	HTTPRequests metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// upstream calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// recordingBuckets defines histogram bucket boundaries (in seconds) for
// dictation recordings.
var recordingBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ProviderDuration, err = m.Float64Histogram("blink.provider.duration",
		metric.WithDescription("Latency of speech provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("blink.recording.duration",
		metric.WithDescription("Length of microphone recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "blink.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "blink.provider.errors", "Total provider errors by provider and kind."},
		{&met.Segments, "blink.transcript.segments", "Recogniser segments by kind."},
		{&met.Corrections, "blink.transcript.corrections", "Dictionary substitutions applied to final segments."},
		{&met.DictationsSaved, "blink.dictations.saved", "Dictations saved from live sessions."},
		{&met.EventsPublished, "blink.events.published", "Outgoing events by topic and status."},
		{&met.CircuitTransitions, "blink.circuit.transitions", "Circuit breaker state changes by breaker and target state."},
		{&met.HTTPRequests, "blink.http.requests", "HTTP requests by method, route, and status class."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("blink.active_sessions",
		metric.WithDescription("Number of open dictation streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("blink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
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

// RecordProviderRequest records one provider call and its latency. A
// non-nil err also increments [Metrics.ProviderErrors].
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("kind", kind),
			),
		)
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
	m.ProviderDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSegment counts one recogniser segment.
func (m *Metrics) RecordSegment(ctx context.Context, final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCorrections counts n dictionary substitutions.
func (m *Metrics) RecordCorrections(ctx context.Context, n int) {
	if n > 0 {
		m.Corrections.Add(ctx, int64(n))
	}
}

// RecordDictationSaved counts a saved dictation.
func (m *Metrics) RecordDictationSaved(ctx context.Context) {
	m.DictationsSaved.Add(ctx, 1)
}

// RecordEventPublish counts one published (or failed) event on topic.
func (m *Metrics) RecordEventPublish(ctx context.Context, topic string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EventsPublished.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("status", status),
		),
	)
}

// RecordCircuitTransition counts a breaker moving to state to.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, breaker, to string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
