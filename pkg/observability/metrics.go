// Package observability provides Prometheus metrics for the chat completions
// adapter, an instrumented HTTP client transport, and server middleware used
// by the mock backend.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/chatrelay/pkg/api"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ProviderRequestsTotal counts rounds sent to the backend.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "mode", "status"},
	)

	// ProviderLatency records the duration of one round in seconds. For
	// streaming rounds this covers the full stream.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model", "mode"},
	)

	// ProviderTokensTotal counts tokens by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// StreamRoundsTotal counts streamed rounds by how they ended.
	StreamRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_stream_rounds_total",
			Help: "Streamed rounds by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// StreamDecodeErrorsTotal counts malformed stream frames.
	StreamDecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_stream_decode_errors_total",
			Help: "Malformed stream frames",
		},
		[]string{"provider"},
	)

	// ActiveStreams tracks streamed rounds currently reading a response body.
	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_streams_active",
			Help: "Active streaming rounds",
		},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// ChainDepth records how many rounds each logical request used.
	ChainDepth = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_chain_depth",
			Help:    "Rounds per logical request",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"mode"},
	)

	// MaxStepsReachedTotal counts logical requests cut off by the step bound.
	MaxStepsReachedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_max_steps_reached_total",
			Help: "Requests terminated by the step bound",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		StreamRoundsTotal,
		StreamDecodeErrorsTotal,
		ActiveStreams,
		ToolExecutionsTotal,
		ChainDepth,
		MaxStepsReachedTotal,
		HTTPClientRequestsTotal,
		HTTPClientDuration,
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
	)
}

// RecordUsage adds a round's token usage to ProviderTokensTotal.
func RecordUsage(provider, model string, u api.Usage) {
	if u.PromptTokens > 0 {
		ProviderTokensTotal.WithLabelValues(provider, model, "input").Add(float64(u.PromptTokens))
	}
	if u.CompletionTokens > 0 {
		ProviderTokensTotal.WithLabelValues(provider, model, "output").Add(float64(u.CompletionTokens))
	}
}
