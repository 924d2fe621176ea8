package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrRegistrationFailed is returned when a collector cannot be registered.
var ErrRegistrationFailed = errors.New("metric registration failed")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace prefixes every metric name. Default: "strata".
	Namespace string

	// Registerer receives the collectors.
	// If nil, uses prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// LatencyBuckets are histogram buckets for expansion latency (seconds).
	// If nil, uses prometheus.DefBuckets.
	LatencyBuckets []float64
}

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

// Metrics exports evaluation counters. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	expansions       prometheus.Counter
	iterations       prometheus.Counter
	derived          prometheus.Counter
	expansionSeconds prometheus.Histogram
	queries          prometheus.Counter
	cacheHits        *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "strata"
	}
	if cfg.LatencyBuckets == nil {
		cfg.LatencyBuckets = prometheus.DefBuckets
	}
	registry := cfg.Registerer
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		expansions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "engine",
			Name:      "expansions_total",
			Help:      "Total fixed-point expansions run",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "engine",
			Name:      "iterations_total",
			Help:      "Total semi-naive iterations across all strata",
		}),
		derived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "engine",
			Name:      "derived_facts_total",
			Help:      "Total facts derived by rule evaluation",
		}),
		expansionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "engine",
			Name:      "expansion_duration_seconds",
			Help:      "Fixed-point expansion latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "universe",
			Name:      "queries_total",
			Help:      "Total queries answered",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "universe",
			Name:      "cache_hits_total",
			Help:      "Query cache hits by cache",
		}, []string{"cache"}),
	}

	for _, c := range []prometheus.Collector{
		m.expansions, m.iterations, m.derived, m.expansionSeconds, m.queries, m.cacheHits,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
		}
	}
	return m, nil
}

// ObserveExpansion records one completed expansion.
func (m *Metrics) ObserveExpansion(iterations, derived int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.expansions.Inc()
	m.iterations.Add(float64(iterations))
	m.derived.Add(float64(derived))
	m.expansionSeconds.Observe(elapsed.Seconds())
}

// ObserveQuery records one answered query.
func (m *Metrics) ObserveQuery() {
	if m == nil {
		return
	}
	m.queries.Inc()
}

// ObserveCacheHit records a hit on the named cache ("expansion" or "result").
func (m *Metrics) ObserveCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cache).Inc()
}
