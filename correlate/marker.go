package correlate

import (
	"log"
	"math"

	"github.com/cwsl/wwvclock"
)

// MarkerSink receives confirmed minute markers, published only after
// cross-validation against the slow spectral path.
type MarkerSink interface {
	OnConfirmedMarker(wwvclock.MarkerEvent)
}

// MarkerCorrelatorConfig holds the cross-validation window.
type MarkerCorrelatorConfig struct {
	SlowConfirmWindowMS float64
}

// DefaultMarkerCorrelatorConfig returns the marker correlator's defaults.
func DefaultMarkerCorrelatorConfig() MarkerCorrelatorConfig {
	return MarkerCorrelatorConfig{SlowConfirmWindowMS: 1500}
}

type slowObservation struct {
	timestampMS float64
	above       bool
}

// MarkerCorrelator consumes fast MarkerEvents from the minute-marker
// detector and slow spectral observations from the slow-marker scanner,
// publishing only markers the slow path also saw above-threshold energy
// for within a short window.
type MarkerCorrelator struct {
	cfg    MarkerCorrelatorConfig
	sink   MarkerSink
	logger *log.Logger

	recentSlow []slowObservation
}

// NewMarkerCorrelator constructs a marker correlator.
func NewMarkerCorrelator(cfg MarkerCorrelatorConfig, sink MarkerSink, logger *log.Logger) *MarkerCorrelator {
	return &MarkerCorrelator{cfg: cfg, sink: sink, logger: logger}
}

// OnMarker implements detect.MarkerSink.
func (m *MarkerCorrelator) OnMarker(ev wwvclock.MarkerEvent) {
	if m.sink == nil {
		return
	}
	if m.slowConfirms(ev.TrailingEdgeMS) {
		m.sink.OnConfirmedMarker(ev)
		m.logf("marker confirmed trailing_edge=%.1fms", ev.TrailingEdgeMS)
		return
	}
	m.logf("marker NOT confirmed by slow path, trailing_edge=%.1fms", ev.TrailingEdgeMS)
}

// OnSlowObservation ingests a frame from the slow-marker scanner.
func (m *MarkerCorrelator) OnSlowObservation(timestampMS float64, above bool) {
	m.recentSlow = append(m.recentSlow, slowObservation{timestampMS, above})
	cutoff := timestampMS - 4*m.cfg.SlowConfirmWindowMS
	i := 0
	for i < len(m.recentSlow) && m.recentSlow[i].timestampMS < cutoff {
		i++
	}
	if i > 0 {
		m.recentSlow = m.recentSlow[i:]
	}
}

func (m *MarkerCorrelator) slowConfirms(markerMS float64) bool {
	for _, obs := range m.recentSlow {
		if !obs.above {
			continue
		}
		if math.Abs(obs.timestampMS-markerMS) <= m.cfg.SlowConfirmWindowMS {
			return true
		}
	}
	return false
}

func (m *MarkerCorrelator) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf("[MarkerCorrelator] "+format, args...)
	}
}
