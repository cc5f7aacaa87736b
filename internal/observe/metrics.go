// Package observe provides the service's observability primitives:
// OpenTelemetry metrics, tracing, a trace-aware logger, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed in
// Prometheus format by the exporter that [InitProvider] installs. Tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution; production code may use [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every instrument in [Metrics].
const meterName = "github.com/MrWong99/gptfallback"

// Fallback turn outcomes, used as the "result" attribute.
const (
	ResultAnswered      = "answered"
	ResultNotConfigured = "not_configured"
	ResultNoResponse    = "no_response"
)

// Metrics holds the service's metric instruments. The OTel types handle their
// own synchronisation.
type Metrics struct {
	// FallbackRequests counts fallback turns by outcome. Attributes:
	//   attribute.String("result", ...)
	FallbackRequests metric.Int64Counter

	// LLMDuration tracks the time from sending a request until the reply
	// stream ends. Attributes: attribute.String("provider", ...)
	LLMDuration metric.Float64Histogram

	// FirstFragmentLatency tracks the time until the first sentence is ready
	// to speak.
	FirstFragmentLatency metric.Float64Histogram

	// Fragments counts sentences spoken from LLM replies.
	Fragments metric.Int64Counter

	// ProviderErrors counts LLM failures. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	//   attribute.String("endpoint", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// BusMessages counts bus messages handled by the skill. Attributes:
	//   attribute.String("type", ...)
	BusMessages metric.Int64Counter

	// ActiveSessions tracks the number of sessions with a conversation log.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for chat
// completions that take from a few hundred milliseconds to tens of seconds.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates every instrument using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FallbackRequests, err = m.Int64Counter("gptfallback.fallback.requests",
		metric.WithDescription("Fallback turns by result."),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("gptfallback.llm.duration",
		metric.WithDescription("Duration of a streamed LLM reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstFragmentLatency, err = m.Float64Histogram("gptfallback.llm.first_fragment",
		metric.WithDescription("Latency until the first speakable sentence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Fragments, err = m.Int64Counter("gptfallback.fragments",
		metric.WithDescription("Sentences spoken from LLM replies."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("gptfallback.provider.errors",
		metric.WithDescription("LLM provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("gptfallback.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by endpoint and new state."),
	); err != nil {
		return nil, err
	}
	if met.BusMessages, err = m.Int64Counter("gptfallback.bus.messages",
		metric.WithDescription("Bus messages handled by type."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("gptfallback.active_sessions",
		metric.WithDescription("Sessions with a conversation log."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("gptfallback.http.request.duration",
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

// DefaultMetrics returns a package-level [Metrics] created from
// [otel.GetMeterProvider] on first use. Call it after [InitProvider] so the
// instruments bind to the exporting provider.
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

// RecordFallbackRequest counts one fallback turn with the given result.
func (m *Metrics) RecordFallbackRequest(ctx context.Context, result string) {
	m.FallbackRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, endpoint, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("state", state),
		),
	)
}

// RecordBusMessage counts one handled bus message.
func (m *Metrics) RecordBusMessage(ctx context.Context, msgType string) {
	m.BusMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}
