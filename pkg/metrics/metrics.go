// Package metrics exposes the runtime's Prometheus instruments on a
// dedicated registry served at GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the runtime records.
type Metrics struct {
	registry *prometheus.Registry

	LLMCalls      *prometheus.CounterVec
	LLMFailures   *prometheus.CounterVec
	LLMRetries    prometheus.Counter
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	BreakerState  prometheus.Gauge
	CycleDuration prometheus.Histogram
	CycleErrors   prometheus.Counter
	FallbacksUsed prometheus.Counter
	OptionalSkips prometheus.Counter
	Episodes      prometheus.Counter
	ShellRejected prometheus.Counter
}

// New creates all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anima_llm_calls_total",
			Help: "LLM gateway calls by operation and result.",
		}, []string{"operation", "result"}),
		LLMFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anima_llm_failures_total",
			Help: "LLM gateway failures by operation and kind.",
		}, []string{"operation", "kind"}),
		LLMRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anima_llm_retries_total",
			Help: "Retry attempts after transient LLM failures.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anima_llm_cache_hits_total",
			Help: "LLM response cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anima_llm_cache_misses_total",
			Help: "LLM response cache misses.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anima_llm_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "anima_heavy_tick_duration_seconds",
			Help:    "Wall time of one heavy-tick cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anima_heavy_tick_errors_total",
			Help: "Heavy-tick cycles that ended with status error.",
		}),
		FallbacksUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anima_fallbacks_used_total",
			Help: "Critical steps served from the fallback cache.",
		}),
		OptionalSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anima_optional_skips_total",
			Help: "Optional steps refused admission by the budget.",
		}),
		Episodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anima_episodes_written_total",
			Help: "Episodes appended to the episodic store.",
		}),
		ShellRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anima_shell_rejected_total",
			Help: "Shell commands rejected by validation.",
		}),
	}

	reg.MustRegister(
		m.LLMCalls, m.LLMFailures, m.LLMRetries,
		m.CacheHits, m.CacheMisses, m.BreakerState,
		m.CycleDuration, m.CycleErrors, m.FallbacksUsed,
		m.OptionalSkips, m.Episodes, m.ShellRejected,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
