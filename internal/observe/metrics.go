// Package observe provides application-wide observability primitives for
// voxclip: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxclip metrics.
const meterName = "github.com/MrWong99/voxclip"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DecodeDuration tracks how long one chunk decode takes. Use with
	// attribute.String("decoder", ...).
	DecodeDuration metric.Float64Histogram

	// TranscribeDuration tracks speech-to-text latency per utterance. Use with
	// attribute.String("provider", ...).
	TranscribeDuration metric.Float64Histogram

	// --- Counters ---

	// DecodeFailures counts chunks that produced no audio or failed outright.
	// Use with attribute.String("reason", ...).
	DecodeFailures metric.Int64Counter

	// SamplesDecoded counts mono samples delivered by the decoder.
	SamplesDecoded metric.Int64Counter

	// Utterances counts finished utterances. Use with
	// attribute.String("codec", ...).
	Utterances metric.Int64Counter

	// UtteranceSeconds is the distribution of utterance lengths.
	UtteranceSeconds metric.Float64Histogram

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of open clipping streams.
	ActiveStreams metric.Int64UpDownCounter

	// DispatchQueueDepth tracks decode jobs waiting for the worker.
	DispatchQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for decode
// and transcription latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets covers utterance lengths from a single word to a long
// monologue.
var utteranceBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecodeDuration, err = m.Float64Histogram("voxclip.decode.duration",
		metric.WithDescription("Latency of decoding one compressed chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("voxclip.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceSeconds, err = m.Float64Histogram("voxclip.utterance.length",
		metric.WithDescription("Length of finished utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DecodeFailures, err = m.Int64Counter("voxclip.decode.failures",
		metric.WithDescription("Chunks that could not be decoded, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SamplesDecoded, err = m.Int64Counter("voxclip.samples.decoded",
		metric.WithDescription("Mono samples produced by the decoder."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxclip.utterances",
		metric.WithDescription("Finished utterances by source codec."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxclip.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxclip.active_streams",
		metric.WithDescription("Number of open clipping streams."),
	); err != nil {
		return nil, err
	}
	if met.DispatchQueueDepth, err = m.Int64UpDownCounter("voxclip.dispatch.queue_depth",
		metric.WithDescription("Decode jobs waiting for the dispatcher worker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxclip.http.request.duration",
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

// RecordDecode records one decode call: its latency, the samples it produced
// and, when it produced none, a failure with the given reason.
func (m *Metrics) RecordDecode(ctx context.Context, decoder string, seconds float64, samples int, failReason string) {
	m.DecodeDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("decoder", decoder)))
	if samples > 0 {
		m.SamplesDecoded.Add(ctx, int64(samples))
	}
	if failReason != "" {
		m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failReason)))
	}
}

// RecordUtterance records a finished utterance of the given length.
func (m *Metrics) RecordUtterance(ctx context.Context, codec string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("codec", codec)))
	m.UtteranceSeconds.Record(ctx, seconds)
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
