// Package metrics holds the Prometheus collectors of the kioku service.
// Collectors are registered on the default registry at init and exposed by
// the API layer on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kioku"

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultFallback = "fallback"
	ResultSkipped  = "skipped"
)

// =============================================================================
// Session Metrics
// =============================================================================

var (
	// SessionsCreated counts sessions created, by character.
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		},
		[]string{"character_id"},
	)

	// TurnsTotal counts handled turns by character and result
	// (ok, fallback, error).
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns handled",
		},
		[]string{"character_id", "result"},
	)

	// TurnLatency tracks end-to-end turn latency.
	TurnLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"character_id"},
	)
)

// =============================================================================
// Compression Metrics
// =============================================================================

var (
	// Compressions counts compression attempts by result (ok, skipped, error).
	Compressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressions_total",
			Help:      "Total number of compression attempts",
		},
		[]string{"result"},
	)

	// CompressedMessages counts messages folded into compressed history.
	CompressedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressed_messages_total",
			Help:      "Total number of messages removed from live history by compression",
		},
	)

	// ArchiveFailures counts failed writes to the compression archive.
	ArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Total number of failed compression archive writes",
		},
	)
)

// =============================================================================
// Knowledge Metrics
// =============================================================================

var (
	// KnowledgeSearches counts index searches by character.
	KnowledgeSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_searches_total",
			Help:      "Total number of knowledge index searches",
		},
		[]string{"character_id"},
	)

	// TopicCacheLookups counts relevance lookups by outcome (hit, miss).
	TopicCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topic_cache_lookups_total",
			Help:      "Total number of topic cache relevance lookups",
		},
		[]string{"outcome"},
	)

	// TopicCacheSessions tracks the number of live per-session caches.
	TopicCacheSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topic_cache_sessions",
			Help:      "Number of live per-session topic caches",
		},
	)
)

// =============================================================================
// Generation Metrics
// =============================================================================

var (
	// GenerationLatency tracks generation backend call latency.
	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Generation backend latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"result"},
	)
)

// =============================================================================
// HTTP Metrics
// =============================================================================

var (
	// HTTPRequests counts API requests by route pattern, method and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP API requests",
		},
		[]string{"route", "method", "status"},
	)

	// RateLimited counts turns rejected by the per-user rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by rate limiting",
		},
	)
)
