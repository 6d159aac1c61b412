package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/smartview/internal/ir"
)

// Metrics are the controller's Prometheus collectors.
type Metrics struct {
	Events          *prometheus.CounterVec
	Checks          *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	ThrottleEntries prometheus.Counter
	Throttled       prometheus.Gauge
	SettleSeconds   prometheus.Histogram
	RefreshTicks    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartview",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Mutation events dispatched, by kind",
		}, []string{"kind"}),
		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartview",
			Subsystem: "engine",
			Name:      "checks_total",
			Help:      "Incremental membership checks, by path (unordered, ordered, evict, busy)",
		}, []string{"path"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartview",
			Subsystem: "engine",
			Name:      "refreshes_total",
			Help:      "Full playlist refreshes, by reason",
		}, []string{"reason"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartview",
			Subsystem: "engine",
			Name:      "failures_total",
			Help:      "Recovered recompute failures, by error code",
		}, []string{"code"}),
		ThrottleEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartview",
			Subsystem: "engine",
			Name:      "throttle_entries_total",
			Help:      "Times the rate limiter entered throttled mode",
		}),
		Throttled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartview",
			Subsystem: "engine",
			Name:      "throttled",
			Help:      "1 while the rate limiter is throttled",
		}),
		SettleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartview",
			Subsystem: "engine",
			Name:      "settle_seconds",
			Help:      "Duration of settle passes",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		RefreshTicks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartview",
			Subsystem: "engine",
			Name:      "refresh_ticks",
			Help:      "Throttled ticks between settle passes",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Checks, m.Refreshes, m.Failures,
			m.ThrottleEntries, m.Throttled, m.SettleSeconds, m.RefreshTicks)
	}
	return m
}

func (m *Metrics) event(kind ir.EventKind) {
	m.Events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) check(path string) {
	m.Checks.WithLabelValues(path).Inc()
}

func (m *Metrics) refresh(reason string) {
	m.Refreshes.WithLabelValues(reason).Inc()
}

func (m *Metrics) failure(code ErrorCode) {
	m.Failures.WithLabelValues(string(code)).Inc()
}
