// Package observe provides application-wide observability primitives for
// the feedback service: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// registers a Prometheus exporter as the metric reader; the service itself
// does not serve a /metrics HTTP route. A package-level default
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

// meterName is the instrumentation scope name used for all feedback-service
// metrics.
const meterName = "github.com/mingdodev/korean-writing-feedback-rag"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LLMDuration tracks chat-completion gateway call latency.
	LLMDuration metric.Float64Histogram

	// RetrievalDuration tracks retrieval-backend call latency. Use with
	// attribute.String("backend", "vector"|"lexical").
	RetrievalDuration metric.Float64Histogram

	// DictionaryLookupDuration tracks grammar dictionary lookup latency.
	DictionaryLookupDuration metric.Float64Histogram

	// OrchestrationDuration tracks whole-request pipeline latency.
	OrchestrationDuration metric.Float64Histogram

	// --- Counters ---

	// LLMCalls counts chat-completion gateway calls. Use with attributes:
	//   attribute.String("operation", "chat"|"chat_structured"), attribute.String("status", ...)
	LLMCalls metric.Int64Counter

	// RetrievalCalls counts retrieval-backend calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	RetrievalCalls metric.Int64Counter

	// PublishOutcomes counts event-publication attempts. Use with attribute:
	//   attribute.String("status", "ok"|"fallback"|"dropped")
	PublishOutcomes metric.Int64Counter

	// SentencesProcessed counts sentences processed, by candidacy. Use with
	// attribute: attribute.Bool("candidate", ...)
	SentencesProcessed metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for the mix of in-process scoring and outbound network calls this service
// makes per request.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("feedback.llm.duration",
		metric.WithDescription("Latency of chat-completion gateway calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("feedback.retrieval.duration",
		metric.WithDescription("Latency of vector/lexical retrieval calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DictionaryLookupDuration, err = m.Float64Histogram("feedback.dictionary_lookup.duration",
		metric.WithDescription("Latency of grammar dictionary lookups."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OrchestrationDuration, err = m.Float64Histogram("feedback.orchestration.duration",
		metric.WithDescription("End-to-end feedback request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.LLMCalls, err = m.Int64Counter("feedback.llm.calls",
		metric.WithDescription("Total chat-completion gateway calls by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.RetrievalCalls, err = m.Int64Counter("feedback.retrieval.calls",
		metric.WithDescription("Total retrieval-backend calls by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.PublishOutcomes, err = m.Int64Counter("feedback.publish.outcomes",
		metric.WithDescription("Total event-publication attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SentencesProcessed, err = m.Int64Counter("feedback.sentences.processed",
		metric.WithDescription("Total sentences processed by error-candidacy."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("feedback.http.request.duration",
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

// RecordLLMCall is a convenience method that records an LLM call counter
// increment with the standard attribute set.
func (m *Metrics) RecordLLMCall(ctx context.Context, operation, status string) {
	m.LLMCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordRetrievalCall is a convenience method that records a retrieval call
// counter increment with the standard attribute set.
func (m *Metrics) RecordRetrievalCall(ctx context.Context, backend, status string) {
	m.RetrievalCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordPublishOutcome is a convenience method that records an event
// publication outcome counter increment.
func (m *Metrics) RecordPublishOutcome(ctx context.Context, status string) {
	m.PublishOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSentenceProcessed is a convenience method that records a processed
// sentence, tagged by whether it was an error candidate.
func (m *Metrics) RecordSentenceProcessed(ctx context.Context, candidate bool) {
	m.SentencesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("candidate", candidate)),
	)
}
