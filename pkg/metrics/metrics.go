// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// ChatRequestsTotal tracks chat pipeline outcomes.
	ChatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat pipeline requests by terminal outcome",
		},
		[]string{"outcome", "language"},
	)

	// RateLimitRejections tracks requests denied by the per-session limiter.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_rejections_total",
			Help: "Chat requests rejected by the session rate limiter",
		},
	)

	// RetrievalDegraded tracks embedding or similarity search failures that
	// were absorbed by the pipeline.
	RetrievalDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_retrieval_degraded_total",
			Help: "Retrieval failures treated as empty context",
		},
		[]string{"step"},
	)

	// RetrievedEntries tracks how many knowledge entries each query returned.
	RetrievedEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_retrieved_entries",
			Help:    "Knowledge entries returned per similarity search",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		},
	)

	// PersistenceFailures tracks store writes that failed without failing the reply.
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_persistence_failures_total",
			Help: "Conversation store writes that failed",
		},
		[]string{"operation"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// StreamsActive tracks chat responses currently being streamed.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_streams_active",
			Help: "Number of chat responses currently streaming",
		},
	)

	// FeedConnections tracks open admin message feeds.
	FeedConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_feed_connections_active",
			Help: "Number of open admin message feed connections",
		},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"language"},
	)

	// MessagesTotal tracks messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)

	// EventsPublishFailures tracks chat events that could not reach NATS.
	EventsPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_event_publish_failures_total",
			Help: "Chat events that failed to publish",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	if tokensIn > 0 {
		LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// RecordChatOutcome records the terminal outcome of one chat request.
func RecordChatOutcome(outcome, language string) {
	ChatRequestsTotal.WithLabelValues(outcome, language).Inc()
}
