// Package observe provides application-wide observability primitives for
// tara: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all tara metrics.
const meterName = "github.com/MrWong99/tara"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SegmentDuration tracks the audio length of finalized segments.
	SegmentDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text recognition latency. Use with
	// attribute.String("provider", ...).
	STTDuration metric.Float64Histogram

	// DialogueDuration tracks answer-query round-trip latency.
	DialogueDuration metric.Float64Histogram

	// --- Counters ---

	// Segments counts listening attempts by outcome. Use with attribute:
	//   attribute.String("outcome", "segment"|"discarded"|"timeout"|"stopped")
	Segments metric.Int64Counter

	// NoiseTiers counts finalized segments by noise tier. Use with attribute:
	//   attribute.String("tier", ...)
	NoiseTiers metric.Int64Counter

	// KeywordVerdicts counts keyword classifications. Use with attribute:
	//   attribute.String("verdict", ...)
	KeywordVerdicts metric.Int64Counter

	// DialogueRequests counts dialogue service calls. Use with attributes:
	//   attribute.String("kind", "audio"|"follow_up"), attribute.String("status", ...)
	DialogueRequests metric.Int64Counter

	// StateTransitions counts conversation state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ProviderErrors counts recognizer errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a conversation is in the active state.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for network
// round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// segmentBuckets spans the recorder's minimum and maximum segment lengths.
var segmentBuckets = []float64{
	1, 2, 2.5, 3, 3.5, 4, 4.5, 5, 5.5, 6,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("tara.segment.duration",
		metric.WithDescription("Audio length of finalized speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("tara.stt.duration",
		metric.WithDescription("Latency of speech-to-text recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DialogueDuration, err = m.Float64Histogram("tara.dialogue.duration",
		metric.WithDescription("Latency of dialogue service requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("tara.segments",
		metric.WithDescription("Listening attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.NoiseTiers, err = m.Int64Counter("tara.noise_tier",
		metric.WithDescription("Finalized segments by noise tier."),
	); err != nil {
		return nil, err
	}
	if met.KeywordVerdicts, err = m.Int64Counter("tara.keyword.verdicts",
		metric.WithDescription("Keyword classifications by verdict."),
	); err != nil {
		return nil, err
	}
	if met.DialogueRequests, err = m.Int64Counter("tara.dialogue.requests",
		metric.WithDescription("Dialogue service requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("tara.state.transitions",
		metric.WithDescription("Conversation state transitions."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("tara.provider.errors",
		metric.WithDescription("Total recognizer errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tara.active_sessions",
		metric.WithDescription("Number of conversations in the active state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tara.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment records the outcome of one listening attempt.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFinalized records a kept segment's length and noise tier.
func (m *Metrics) RecordFinalized(ctx context.Context, d time.Duration, tier string) {
	m.SegmentDuration.Record(ctx, d.Seconds())
	m.NoiseTiers.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordVerdict records one keyword classification.
func (m *Metrics) RecordVerdict(ctx context.Context, verdict string) {
	m.KeywordVerdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

// RecordDialogue records a dialogue request's kind, status, and latency.
func (m *Metrics) RecordDialogue(ctx context.Context, kind, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.DialogueRequests.Add(ctx, 1, attrs)
	m.DialogueDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordTransition records a conversation state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordSTT records recognition latency for provider.
func (m *Metrics) RecordSTT(ctx context.Context, provider string, d time.Duration) {
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
