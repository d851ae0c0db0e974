// Package observe provides application-wide observability primitives for
// voxhire: OpenTelemetry metrics, token usage aggregation, and structured
// logging setup.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxhire metrics.
const meterName = "github.com/MrWong99/voxhire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LLMDuration tracks LLM inference latency per conversational turn.
	LLMDuration metric.Float64Histogram

	// CallDuration tracks the total length of completed calls.
	CallDuration metric.Float64Histogram

	// --- Counters ---

	// UserTurns counts committed user utterances. Use with attribute:
	//   attribute.String("room", ...)
	UserTurns metric.Int64Counter

	// AgentTurns counts completed agent utterances. Use with attributes:
	//   attribute.String("room", ...), attribute.String("outcome", ...)
	AgentTurns metric.Int64Counter

	// FillerUtterances counts filler phrases played while the model thinks.
	FillerUtterances metric.Int64Counter

	// LLMTokens counts consumed tokens. Use with attribute:
	//   attribute.String("direction", "prompt"|"completion")
	LLMTokens metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for whole-call
// durations.
var callBuckets = []float64{
	15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("voxhire.llm.duration",
		metric.WithDescription("Latency of LLM inference per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("voxhire.call.duration",
		metric.WithDescription("Total duration of completed calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}

	if met.UserTurns, err = m.Int64Counter("voxhire.turns.user",
		metric.WithDescription("Committed user utterances by room."),
	); err != nil {
		return nil, err
	}
	if met.AgentTurns, err = m.Int64Counter("voxhire.turns.agent",
		metric.WithDescription("Agent utterances by room and outcome."),
	); err != nil {
		return nil, err
	}
	if met.FillerUtterances, err = m.Int64Counter("voxhire.filler.utterances",
		metric.WithDescription("Filler phrases played while awaiting the model."),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("voxhire.llm.tokens",
		metric.WithDescription("LLM tokens consumed by direction."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxhire.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("voxhire.active_calls",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUserTurn increments the user turn counter for a room. Safe to call on
// a nil receiver, which makes metrics strictly optional for callers.
func (m *Metrics) RecordUserTurn(ctx context.Context, room string) {
	if m == nil {
		return
	}
	m.UserTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("room", room)))
}

// RecordAgentTurn increments the agent turn counter. outcome is "committed" or
// "interrupted". Safe to call on a nil receiver.
func (m *Metrics) RecordAgentTurn(ctx context.Context, room, outcome string) {
	if m == nil {
		return
	}
	m.AgentTurns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("room", room),
		attribute.String("outcome", outcome),
	))
}

// RecordFiller increments the filler utterance counter. Safe to call on a nil
// receiver.
func (m *Metrics) RecordFiller(ctx context.Context, room string) {
	if m == nil {
		return
	}
	m.FillerUtterances.Add(ctx, 1, metric.WithAttributes(attribute.String("room", room)))
}

// RecordLLMTurn records inference latency and token usage for one turn. Safe
// to call on a nil receiver.
func (m *Metrics) RecordLLMTurn(ctx context.Context, seconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, seconds)
	m.LLMTokens.Add(ctx, int64(promptTokens),
		metric.WithAttributes(attribute.String("direction", "prompt")))
	m.LLMTokens.Add(ctx, int64(completionTokens),
		metric.WithAttributes(attribute.String("direction", "completion")))
}

// RecordProviderError increments the provider error counter. Safe to call on
// a nil receiver.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// CallStarted increments the active call gauge. Safe to call on a nil receiver.
func (m *Metrics) CallStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveCalls.Add(ctx, 1)
}

// CallEnded decrements the active call gauge and records the call duration.
// Safe to call on a nil receiver.
func (m *Metrics) CallEnded(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveCalls.Add(ctx, -1)
	m.CallDuration.Record(ctx, seconds)
}
