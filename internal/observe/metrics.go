// Package observe provides application-wide observability primitives for
// kaudio: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all kaudio metrics.
const meterName = "github.com/MrWong99/kaudio"

// Filter drop reasons used with [Metrics.RecordFilterDrop].
const (
	DropNoSpeech      = "no_speech"
	DropLowConfidence = "low_confidence"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks transcription latency per finalized segment.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks chat, summarization and translation latency.
	// Use with attribute.String("op", ...).
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech relay latency until the upstream answered.
	TTSDuration metric.Float64Histogram

	// --- Pipeline counters ---

	// FramesReceived counts complete audio frames fed to the segmenter.
	FramesReceived metric.Int64Counter

	// FramesDropped counts client-side frames discarded because the
	// hand-off channel was full.
	FramesDropped metric.Int64Counter

	// SegmentsFinalized counts segments handed to transcription.
	SegmentsFinalized metric.Int64Counter

	// SegmentsDiscarded counts finalized segments whose text filtered to empty.
	SegmentsDiscarded metric.Int64Counter

	// FilterDrops counts dropped sub-segments. Use with attribute:
	//   attribute.String("reason", DropNoSpeech|DropLowConfidence)
	FilterDrops metric.Int64Counter

	// HallucinationWarnings counts denylist phrase matches.
	HallucinationWarnings metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks open streaming connections.
	ActiveSessions metric.Int64UpDownCounter

	// TranslationsInFlight tracks running translation tasks across sessions.
	TranslationsInFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model inference on short utterances.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("kaudio.stt.duration",
		metric.WithDescription("Latency of segment transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("kaudio.llm.duration",
		metric.WithDescription("Latency of LLM completions by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("kaudio.tts.duration",
		metric.WithDescription("Latency until the upstream TTS service responded."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("kaudio.frames.received",
		metric.WithDescription("Audio frames classified by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("kaudio.frames.dropped",
		metric.WithDescription("Captured frames dropped because the send queue was full."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsFinalized, err = m.Int64Counter("kaudio.segments.finalized",
		metric.WithDescription("Speech segments handed to transcription."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("kaudio.segments.discarded",
		metric.WithDescription("Speech segments whose transcript filtered to empty."),
	); err != nil {
		return nil, err
	}
	if met.FilterDrops, err = m.Int64Counter("kaudio.filter.drops",
		metric.WithDescription("Transcription sub-segments dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.HallucinationWarnings, err = m.Int64Counter("kaudio.filter.hallucination_warnings",
		metric.WithDescription("Denylisted phrases found in kept transcription text."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("kaudio.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("kaudio.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("kaudio.active_sessions",
		metric.WithDescription("Number of open streaming connections."),
	); err != nil {
		return nil, err
	}
	if met.TranslationsInFlight, err = m.Int64UpDownCounter("kaudio.translations.in_flight",
		metric.WithDescription("Number of running translation tasks."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("kaudio.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFilterDrop adds n dropped sub-segments for reason. Zero is a no-op.
func (m *Metrics) RecordFilterDrop(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.FilterDrops.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordLLM records the latency of one LLM operation ("chat", "summarize",
// "translate").
func (m *Metrics) RecordLLM(ctx context.Context, op string, seconds float64) {
	m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
}
