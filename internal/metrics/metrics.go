// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "glowscan"

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	quotaDenials   prometheus.Counter
	tiers          *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
	backgroundErrs *prometheus.CounterVec
	purged         prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Gateway requests by route and status code.",
		}, []string{"route", "code"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome.",
		}, []string{"result"}),
		quotaDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Scans rejected because the daily quota was exhausted.",
		}),
		tiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tier_total",
			Help:      "Outputs produced per agent and fallback tier.",
		}, []string{"agent", "tier"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Latency of each pipeline phase.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"phase"}),
		backgroundErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_failures_total",
			Help:      "Detached post-response tasks that failed.",
		}, []string{"task"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_purged_rows_total",
			Help:      "Expired store rows removed by the janitor.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.cacheLookups, m.quotaDenials, m.tiers,
		m.phaseDuration, m.backgroundErrs, m.purged,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Request(route, code string) {
	if m != nil {
		m.requests.WithLabelValues(route, code).Inc()
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) QuotaDenied() {
	if m != nil {
		m.quotaDenials.Inc()
	}
}

func (m *Metrics) Tier(agent, tier string) {
	if m != nil {
		m.tiers.WithLabelValues(agent, tier).Inc()
	}
}

// ObservePhase records the time since start for phase.
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	if m != nil {
		m.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) BackgroundFailure(task string) {
	if m != nil {
		m.backgroundErrs.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) Purged(n int64) {
	if m != nil && n > 0 {
		m.purged.Add(float64(n))
	}
}
