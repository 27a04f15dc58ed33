package loop

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the loop's monotone counters. They reset only on
// process restart; ConsecutiveIdle resets whenever a cycle dispatches.
// Counters are mirrored into prometheus for the /metrics endpoint.
type Metrics struct {
	total           atomic.Uint64
	successful      atomic.Uint64
	failed          atomic.Uint64
	idle            atomic.Uint64
	consecutiveIdle atomic.Uint64
	audits          atomic.Uint64

	promCycles      *prometheus.CounterVec
	promAudits      prometheus.Counter
	promConsecIdle  prometheus.Gauge
	promSessionSecs *prometheus.HistogramVec
}

// Snapshot is a consistent-enough copy for HTTP observers.
type Snapshot struct {
	Total           uint64 `json:"total"`
	Successful      uint64 `json:"successful"`
	Failed          uint64 `json:"failed"`
	Idle            uint64 `json:"idle"`
	ConsecutiveIdle uint64 `json:"consecutiveIdle"`
	Audits          uint64 `json:"audits"`
}

// NewMetrics builds the counters and registers the prometheus mirrors.
// reg may be nil to skip registration (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anima",
			Subsystem: "loop",
			Name:      "cycles_total",
			Help:      "Cycles run, by outcome.",
		}, []string{"outcome"}),
		promAudits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anima",
			Subsystem: "loop",
			Name:      "audits_total",
			Help:      "Governance audits fired.",
		}),
		promConsecIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anima",
			Subsystem: "loop",
			Name:      "consecutive_idle_cycles",
			Help:      "Idle cycles since the last dispatch.",
		}),
		promSessionSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anima",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "LLM session durations, by role.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"role"}),
	}
	if reg != nil {
		reg.MustRegister(m.promCycles, m.promAudits, m.promConsecIdle, m.promSessionSecs)
	}
	return m
}

// RecordSuccess accounts one dispatched cycle that succeeded.
func (m *Metrics) RecordSuccess() {
	m.total.Add(1)
	m.successful.Add(1)
	m.consecutiveIdle.Store(0)
	m.promCycles.WithLabelValues("success").Inc()
	m.promConsecIdle.Set(0)
}

// RecordFailure accounts one dispatched cycle that failed.
func (m *Metrics) RecordFailure() {
	m.total.Add(1)
	m.failed.Add(1)
	m.promCycles.WithLabelValues("failure").Inc()
}

// RecordIdle accounts one idle cycle.
func (m *Metrics) RecordIdle() {
	m.total.Add(1)
	m.idle.Add(1)
	n := m.consecutiveIdle.Add(1)
	m.promCycles.WithLabelValues("idle").Inc()
	m.promConsecIdle.Set(float64(n))
}

// RecordAudit accounts one audit at fire time, before the audit task
// runs, so observers see intent even while it is in flight.
func (m *Metrics) RecordAudit() {
	m.audits.Add(1)
	m.promAudits.Inc()
}

// ResetConsecutiveIdle clears the idle streak (idle handler created a
// plan).
func (m *Metrics) ResetConsecutiveIdle() {
	m.consecutiveIdle.Store(0)
	m.promConsecIdle.Set(0)
}

// ObserveSession records one session duration for the histogram.
func (m *Metrics) ObserveSession(role string, d time.Duration) {
	m.promSessionSecs.WithLabelValues(role).Observe(d.Seconds())
}

// Get returns a snapshot of every counter.
func (m *Metrics) Get() Snapshot {
	return Snapshot{
		Total:           m.total.Load(),
		Successful:      m.successful.Load(),
		Failed:          m.failed.Load(),
		Idle:            m.idle.Load(),
		ConsecutiveIdle: m.consecutiveIdle.Load(),
		Audits:          m.audits.Load(),
	}
}
