package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	fetches        *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	staleResults   prometheus.Counter
	sessions       prometheus.Gauge
	ingested       prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deepdive_fetch_total",
			Help: "Comparison fetches by result (ok, error).",
		}, []string{"result"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "deepdive_fetch_duration_seconds",
			Help:    "Latency of a two-period comparison fetch.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "deepdive_cache_hits_total",
			Help: "Result cache reads served fresh.",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "deepdive_cache_misses_total",
			Help: "Result cache reads that were absent or stale.",
		}),
		cacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "deepdive_cache_evictions_total",
			Help: "Result cache entries evicted by the LRU bound.",
		}),
		staleResults: f.NewCounter(prometheus.CounterOpts{
			Name: "deepdive_stale_results_total",
			Help: "Fetch results discarded because a newer request superseded them.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "deepdive_sessions",
			Help: "Open drill-down sessions.",
		}),
		ingested: f.NewCounter(prometheus.CounterOpts{
			Name: "deepdive_ingested_facts_total",
			Help: "Fact rows loaded into the in-memory warehouse.",
		}),
	}
}

func (m *Metrics) Fetch(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) CacheEvict() {
	if m != nil {
		m.cacheEvictions.Inc()
	}
}

func (m *Metrics) StaleResult() {
	if m != nil {
		m.staleResults.Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) Ingested(n int) {
	if m != nil {
		m.ingested.Add(float64(n))
	}
}
