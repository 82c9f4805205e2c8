// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records every pipeline metric.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	queriesTotal     *prometheus.CounterVec
	guardRejections  *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec

	// Generator metrics
	llmRequestsTotal *prometheus.CounterVec
	llmTokensUsed    *prometheus.CounterVec

	// Database metrics
	dbQueryDuration *prometheus.HistogramVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on reg. A nil registerer uses
// the default registry; tests pass a fresh one to avoid duplicate
// registration panics.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.queriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of queries by outcome",
		},
		[]string{"outcome"},
	)
	c.guardRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Queries rejected, by guard layer",
		},
		[]string{"layer"},
	)
	c.pipelineDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of SQL generation requests",
		},
		[]string{"status"},
	)
	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"type"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"status"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache"},
	)
	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache"},
	)

	return c
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := httpStatusLabel(status)
	c.httpRequestsTotal.WithLabelValues(method, path, statusLabel).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordQuery records a pipeline outcome ("executed", "rejected", "error").
func (c *Collector) RecordQuery(outcome string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(outcome).Inc()
	c.pipelineDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRejection records a guard-layer rejection.
func (c *Collector) RecordRejection(layer string) {
	c.guardRejections.WithLabelValues(layer).Inc()
}

// RecordLLMRequest records one SQL generation call with its token usage.
func (c *Collector) RecordLLMRequest(status string, inputTokens, outputTokens int) {
	c.llmRequestsTotal.WithLabelValues(status).Inc()
	c.llmTokensUsed.WithLabelValues("input").Add(float64(inputTokens))
	c.llmTokensUsed.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordDBQuery records one database query.
func (c *Collector) RecordDBQuery(status string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit for the named cache.
func (c *Collector) RecordCacheHit(cache string) {
	c.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss for the named cache.
func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
