// Package metrics exports engine counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quill"

type Metrics struct {
	Executions        *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	ContextsInUse     prometheus.Gauge
	ContextsAllocated prometheus.Gauge
	ModuleLoads       *prometheus.CounterVec
	ParseCache        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Engines sharing a
// registry should share one Metrics.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Script executions by outcome.",
		}, []string{"outcome"}),
		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of Execute calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		ContextsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contexts_in_use",
			Help:      "Execution contexts currently acquired.",
		}),
		ContextsAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contexts_allocated",
			Help:      "Execution context slots allocated by the pool.",
		}),
		ModuleLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_loads_total",
			Help:      "Module resolutions by source and status.",
		}, []string{"source", "status"}),
		ParseCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_cache_total",
			Help:      "Parse cache lookups by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		var result *multierror.Error
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if err := result.ErrorOrNil(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Executions, m.ExecutionDuration, m.ContextsInUse,
		m.ContextsAllocated, m.ModuleLoads, m.ParseCache,
	}
}

// ObserveExecution records one Execute call.
func (m *Metrics) ObserveExecution(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(outcome).Inc()
	m.ExecutionDuration.Observe(elapsed.Seconds())
}

// SetPool publishes pool occupancy.
func (m *Metrics) SetPool(allocated, inUse int) {
	if m == nil {
		return
	}
	m.ContextsAllocated.Set(float64(allocated))
	m.ContextsInUse.Set(float64(inUse))
}

// ModuleLoaded records a module resolution. source is "script" or "native".
func (m *Metrics) ModuleLoaded(source, status string) {
	if m == nil {
		return
	}
	m.ModuleLoads.WithLabelValues(source, status).Inc()
}

func (m *Metrics) ParseCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ParseCache.WithLabelValues(result).Inc()
}
