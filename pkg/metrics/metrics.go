// Package metrics provides Prometheus instrumentation for the LLM
// client and caches. All record methods are nil-safe so metrics can be
// left unwired.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	StreamFrames    *prometheus.CounterVec
	TokensTotal     prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loco_requests_total",
				Help: "Total chat completion requests by status code.",
			},
			[]string{"status"},
		),
		RequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loco_request_duration_seconds",
				Help:    "Chat completion latency distribution.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "loco_response_cache_hits_total",
				Help: "Responses served from the response cache.",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "loco_response_cache_misses_total",
				Help: "Response cache lookups that missed.",
			},
		),
		StreamFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loco_stream_frames_total",
				Help: "Decoded streaming frames by result (ok/dropped).",
			},
			[]string{"result"},
		),
		TokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "loco_tokens_total",
				Help: "Total tokens reported by the server usage field.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CacheHits,
		m.CacheMisses,
		m.StreamFrames,
		m.TokensTotal,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request. A zero status means the
// request never produced an HTTP response.
func (m *Metrics) RecordRequest(statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	m.RequestDuration.Observe(duration.Seconds())
}

// RecordCacheHit counts a response cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// RecordCacheMiss counts a response cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// RecordStreamFrame counts one decoded streaming frame.
func (m *Metrics) RecordStreamFrame(result string) {
	if m == nil {
		return
	}
	m.StreamFrames.WithLabelValues(result).Inc()
}

// RecordTokens adds to the running token total.
func (m *Metrics) RecordTokens(n int) {
	if m == nil {
		return
	}
	m.TokensTotal.Add(float64(n))
}
