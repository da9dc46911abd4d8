// Package observe provides application-wide observability primitives for
// Parlance: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Parlance metrics.
const meterName = "github.com/MrWong99/parlance"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks segment recognition latency (verification,
	// transcription, punctuation, and correction combined).
	RecognitionDuration metric.Float64Histogram

	// CompletionDuration tracks the wall time of one streamed LLM reply, from
	// request start until the stream is exhausted or aborted.
	CompletionDuration metric.Float64Histogram

	// SynthesisDuration tracks per-group speech synthesis latency, from
	// dispatch until the last chunk is delivered.
	SynthesisDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of detected speech segments
	// in seconds.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// VADWindows counts audio windows fed through voice-activity detection.
	VADWindows metric.Int64Counter

	// Segments counts completed speech segments emitted by the segmenter.
	Segments metric.Int64Counter

	// Interruptions counts user barge-ins that aborted an in-flight reply.
	Interruptions metric.Int64Counter

	// PolicyRejections counts segments rejected by policy. Use with attribute:
	//   attribute.String("reason", ...) — "speaker", "language", or "empty"
	PolicyRejections metric.Int64Counter

	// ProviderErrors counts capability provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dialogue sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("parlance.recognition.duration",
		metric.WithDescription("Latency of speech segment recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompletionDuration, err = m.Float64Histogram("parlance.completion.duration",
		metric.WithDescription("Wall time of one streamed LLM reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("parlance.synthesis.duration",
		metric.WithDescription("Per-group speech synthesis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("parlance.segment.duration",
		metric.WithDescription("Audio length of detected speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.VADWindows, err = m.Int64Counter("parlance.vad.windows",
		metric.WithDescription("Total audio windows fed through voice-activity detection."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("parlance.segments",
		metric.WithDescription("Total completed speech segments."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("parlance.interruptions",
		metric.WithDescription("Total user barge-ins that aborted an in-flight reply."),
	); err != nil {
		return nil, err
	}
	if met.PolicyRejections, err = m.Int64Counter("parlance.policy.rejections",
		metric.WithDescription("Total segments rejected by policy, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parlance.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parlance.active_sessions",
		metric.WithDescription("Number of live dialogue sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parlance.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
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

// RecordPolicyRejection records a policy rejection counter increment with
// the standard reason attribute.
func (m *Metrics) RecordPolicyRejection(ctx context.Context, reason string) {
	m.PolicyRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderError counts a failed provider call. provider is the
// capability slot ("vad", "transcriber", "llm", "tts", ...), kind the
// operation that failed ("detect", "transcribe", "stream", "synthesize").
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
