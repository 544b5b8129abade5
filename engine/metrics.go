package engine

import (
	"github.com/cwsl/wwvclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the manager updates as events
// flow through it. A nil *Metrics is valid and every method is a no-op,
// so the manager can be built without Prometheus enabled. Each Metrics
// owns its own registry rather than registering against the global
// DefaultRegisterer, so multiple managers (or multiple test instances) can
// coexist in one process without a duplicate-registration panic.
type Metrics struct {
	registry       *prometheus.Registry
	eventsTotal    *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	syncConfidence prometheus.Gauge
	syncState      prometheus.Gauge
}

// NewMetrics builds a fresh registry and registers the manager's
// Prometheus collectors against it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wwvclock_events_total",
				Help: "Total detector events by type (tick, tick_marker, marker, confirmed_marker, bcd_pulse, symbol)",
			},
			[]string{"type"},
		),
		rejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wwvclock_rejected_total",
				Help: "Total pulses rejected by a detector's own gating (duration, threshold, timing)",
			},
			[]string{"detector"},
		),
		syncConfidence: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wwvclock_sync_confidence",
				Help: "Current sync detector confidence score, 0 to 1",
			},
		),
		syncState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wwvclock_sync_state",
				Help: "Current sync detector state (0=SEARCHING, 1=ACQUIRING, 2=LOCKED, 3=RECOVERING)",
			},
		),
	}
}

// Registry returns the registry backing these collectors, for mounting
// behind an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncEvent counts one detector event of the given kind.
func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

// IncRejected counts one pulse rejected by the named detector.
func (m *Metrics) IncRejected(detector string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(detector).Inc()
}

// AddRejected counts n more pulses rejected by the named detector, for
// callers that poll a detector's own running RejectedCount rather than
// observing each rejection as it happens.
func (m *Metrics) AddRejected(detector string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rejectedTotal.WithLabelValues(detector).Add(float64(n))
}

// SetSync publishes the sync detector's current state and confidence.
func (m *Metrics) SetSync(state wwvclock.SyncState, confidence float64) {
	if m == nil {
		return
	}
	m.syncConfidence.Set(confidence)
	m.syncState.Set(float64(syncStateValue(state)))
}

func syncStateValue(state wwvclock.SyncState) int {
	switch state {
	case wwvclock.SyncSearching:
		return 0
	case wwvclock.SyncAcquiring:
		return 1
	case wwvclock.SyncLocked:
		return 2
	case wwvclock.SyncRecovering:
		return 3
	default:
		return -1
	}
}
