package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	armLabel     = "arm"
	outcomeLabel = "outcome"
	resultLabel  = "result"
)

// Metrics are the process-wide Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Executions         *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec
	CacheStoreFailures prometheus.Counter
	DarklaunchCompares *prometheus.CounterVec
	AdapterFallbacks   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codejail",
				Name:      "executions_total",
				Help:      "Executor invocations by arm and outcome",
			},
			[]string{armLabel, outcomeLabel},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "codejail",
				Name:      "execution_duration_seconds",
				Help:      "Wall time of executor invocations",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{armLabel},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codejail",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Result cache lookups by result (hit, miss, error)",
			},
			[]string{resultLabel},
		),
		CacheStoreFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "codejail",
				Subsystem: "cache",
				Name:      "store_failures_total",
				Help:      "Result cache writes that failed",
			},
		),
		DarklaunchCompares: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codejail",
				Subsystem: "darklaunch",
				Name:      "comparisons_total",
				Help:      "Dark-launch comparisons by result (match, mismatch, na)",
			},
			[]string{resultLabel},
		),
		AdapterFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "codejail",
				Subsystem: "remote",
				Name:      "adapter_fallbacks_total",
				Help:      "Remote adapter names that fell back to the built-in transport",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Executions, m.ExecutionDuration, m.CacheLookups,
			m.CacheStoreFailures, m.DarklaunchCompares, m.AdapterFallbacks)
	}
	return m
}

// ObserveExecution counts one executor call.
func (m *Metrics) ObserveExecution(arm, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Executions.With(prometheus.Labels{armLabel: arm, outcomeLabel: outcome}).Inc()
	m.ExecutionDuration.With(prometheus.Labels{armLabel: arm}).Observe(elapsed.Seconds())
}

// CacheLookup counts a lookup with result "hit", "miss" or "error".
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.With(prometheus.Labels{resultLabel: result}).Inc()
}

func (m *Metrics) CacheStoreFailed() {
	if m == nil {
		return
	}
	m.CacheStoreFailures.Inc()
}

// DarklaunchCompared counts a comparison with result "match", "mismatch" or "na".
func (m *Metrics) DarklaunchCompared(result string) {
	if m == nil {
		return
	}
	m.DarklaunchCompares.With(prometheus.Labels{resultLabel: result}).Inc()
}

func (m *Metrics) AdapterFellBack() {
	if m == nil {
		return
	}
	m.AdapterFallbacks.Inc()
}
