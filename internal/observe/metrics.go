// Package observe provides application-wide observability primitives for
// the gateway: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/cnwinds/chatflow-nexus"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// VADLatency tracks speech-boundary detection latency within a frame.
	VADLatency metric.Float64Histogram

	// ASRDuration tracks speech-to-text transcription latency.
	ASRDuration metric.Float64Histogram

	// LLMFirstTokenLatency tracks time-to-first-token for an LLM completion.
	LLMFirstTokenLatency metric.Float64Histogram

	// LLMDuration tracks total LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSFirstByteLatency tracks time-to-first-audio-byte for synthesis.
	TTSFirstByteLatency metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnLatency tracks end-to-end latency from end-of-speech to
	// first-audio-byte for a single conversational turn.
	TurnLatency metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ModuleRequests counts module invocations. Use with attributes:
	//   attribute.String("type", ...), attribute.String("code", ...), attribute.String("status", ...)
	ModuleRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// AgentTurns counts completed conversational turns. Use with attribute:
	//   attribute.String("agent_id", ...)
	AgentTurns metric.Int64Counter

	// TokensConsumed counts LLM tokens by direction. Use with attributes:
	//   attribute.String("agent_id", ...), attribute.String("direction", "prompt"|"completion")
	TokensConsumed metric.Int64Counter

	// EstimatedCostMicros counts estimated spend in millionths of a unit
	// currency, so fractional per-token costs can be summed without floating
	// point drift. Use with attribute: attribute.String("agent_id", ...)
	EstimatedCostMicros metric.Int64Counter

	// BargeIns counts user interruptions of an in-progress agent turn.
	BargeIns metric.Int64Counter

	// --- Error counters ---

	// ModuleErrors counts module errors. Use with attributes:
	//   attribute.String("type", ...), attribute.String("code", ...)
	ModuleErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveAgents tracks the number of distinct agent templates currently
	// handling at least one session.
	ActiveAgents metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
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
	if met.VADLatency, err = m.Float64Histogram("chatflow.vad.latency",
		metric.WithDescription("Latency of speech-boundary detection per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = m.Float64Histogram("chatflow.asr.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMFirstTokenLatency, err = m.Float64Histogram("chatflow.llm.first_token.latency",
		metric.WithDescription("Time to first token for an LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("chatflow.llm.duration",
		metric.WithDescription("Total latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstByteLatency, err = m.Float64Histogram("chatflow.tts.first_byte.latency",
		metric.WithDescription("Time to first audio byte for a synthesis request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("chatflow.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnLatency, err = m.Float64Histogram("chatflow.turn.latency",
		metric.WithDescription("End-to-end latency from end-of-speech to first audio byte."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("chatflow.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ModuleRequests, err = m.Int64Counter("chatflow.module.requests",
		metric.WithDescription("Total module requests by type, code, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("chatflow.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AgentTurns, err = m.Int64Counter("chatflow.agent.turns",
		metric.WithDescription("Total completed conversational turns by agent ID."),
	); err != nil {
		return nil, err
	}
	if met.TokensConsumed, err = m.Int64Counter("chatflow.llm.tokens",
		metric.WithDescription("Total LLM tokens consumed by agent ID and direction."),
	); err != nil {
		return nil, err
	}
	if met.EstimatedCostMicros, err = m.Int64Counter("chatflow.llm.cost_micros",
		metric.WithDescription("Estimated LLM spend in millionths of a unit currency, by agent ID."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("chatflow.session.barge_ins",
		metric.WithDescription("Total user interruptions of an in-progress agent turn."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ModuleErrors, err = m.Int64Counter("chatflow.module.errors",
		metric.WithDescription("Total module errors by type and code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("chatflow.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveAgents, err = m.Int64UpDownCounter("chatflow.active_agents",
		metric.WithDescription("Number of agent templates currently handling at least one session."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("chatflow.http.request.duration",
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

// RecordModuleRequest is a convenience method that records a module request
// counter increment with the standard attribute set.
func (m *Metrics) RecordModuleRequest(ctx context.Context, typ, code, status string) {
	m.ModuleRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", typ),
			attribute.String("code", code),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordAgentTurn is a convenience method that records a completed
// conversational turn for agentID.
func (m *Metrics) RecordAgentTurn(ctx context.Context, agentID string) {
	m.AgentTurns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent_id", agentID)),
	)
}

// RecordTokens is a convenience method that records prompt/completion token
// counts for agentID.
func (m *Metrics) RecordTokens(ctx context.Context, agentID string, promptTokens, completionTokens int64) {
	m.TokensConsumed.Add(ctx, promptTokens,
		metric.WithAttributes(attribute.String("agent_id", agentID), attribute.String("direction", "prompt")))
	m.TokensConsumed.Add(ctx, completionTokens,
		metric.WithAttributes(attribute.String("agent_id", agentID), attribute.String("direction", "completion")))
}

// RecordModuleError is a convenience method that records a module error
// counter increment.
func (m *Metrics) RecordModuleError(ctx context.Context, typ, code string) {
	m.ModuleErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", typ),
			attribute.String("code", code),
		),
	)
}
