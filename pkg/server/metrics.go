package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics is the host's own Prometheus registry: a private registry (not
// the global default) so tests can construct throwaway instances, with one
// CounterVec/GaugeVec per observability surface the host exposes.
type metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	hitlQueueDepth      prometheus.Gauge
	samplingRateLimited *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcphost",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcphost",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcphost",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total tool calls dispatched, by public tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcphost",
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool call duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"tool"}),
		hitlQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcphost",
			Subsystem: "hitl",
			Name:      "queue_depth",
			Help:      "Current number of pending HITL confirmation requests.",
		}),
		samplingRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcphost",
			Subsystem: "sampling",
			Name:      "rate_limited_total",
			Help:      "Sampling requests denied by the rate limiter, by server_key.",
		}, []string{"server_key"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.toolCalls, m.toolCallDuration, m.hitlQueueDepth, m.samplingRateLimited)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// recordHTTP mirrors the metricsMiddleware convention elsewhere in this codebase: route pattern (from
// chi's RouteContext, not the raw path, so templated routes like
// /sessions/{id} aggregate instead of exploding into one series per id),
// status and duration.
func (m *metrics) recordHTTP(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, http.StatusText(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *metrics) recordToolCall(tool, outcome string, d time.Duration) {
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}
