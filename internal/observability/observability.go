package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnetloop_http_requests_total",
			Help: "Total number of HTTP requests to the status listener",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "magnetloop_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Conversation Metrics
	PromptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magnetloop_prompts_total",
			Help: "Total number of prompts sent to the model backend",
		},
	)

	TokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnetloop_token_usage_total",
			Help: "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: input, output
	)

	ContextEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magnetloop_context_evictions_total",
			Help: "Total number of exchanges evicted from the conversation context",
		},
	)

	ContextTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "magnetloop_context_tokens",
			Help: "Token count of the conversation context after the last trim",
		},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnetloop_tool_calls_total",
			Help: "Total number of tool invocations handled",
		},
		[]string{"tool"},
	)

	// Orchestrator Metrics
	Iterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magnetloop_iterations_count",
			Help:    "Number of re-prompt iterations per run",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magnetloop_run_duration_seconds",
			Help:    "Total duration of an optimization run in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2.3h
		},
	)

	RenderWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magnetloop_render_wait_seconds",
			Help:    "Time spent waiting for rendered images",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms .. ~43m
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnetloop_errors_total",
			Help: "Total number of run-terminating errors",
		},
		[]string{"kind"},
	)
)
