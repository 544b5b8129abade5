package detect

import (
	"math"
	"testing"

	"github.com/cwsl/wwvclock"
)

type recordingMarkerSink struct {
	markers []wwvclock.MarkerEvent
}

func (r *recordingMarkerSink) OnMarker(ev wwvclock.MarkerEvent) { r.markers = append(r.markers, ev) }

const markerTestSampleRate = 50000.0

func feedMarkerTone(m *MarkerDetector, n int, freqHz, amp float64) {
	phase := 0.0
	step := 2 * math.Pi * freqHz / markerTestSampleRate
	for k := 0; k < n; k++ {
		m.Process(amp*math.Cos(phase), amp*math.Sin(phase))
		phase += step
	}
}

func feedMarkerSilence(m *MarkerDetector, n int) {
	for k := 0; k < n; k++ {
		m.Process(0, 0)
	}
}

func newTestMarkerDetector(t *testing.T, sink MarkerSink) *MarkerDetector {
	t.Helper()
	cfg := DefaultMarkerConfig()
	d, err := NewMarkerDetector(markerTestSampleRate, cfg, sink, nil)
	if err != nil {
		t.Fatalf("NewMarkerDetector: %v", err)
	}
	return d
}

func TestMarkerDetectorSilenceProducesNoMarker(t *testing.T) {
	sink := &recordingMarkerSink{}
	d := newTestMarkerDetector(t, sink)
	feedMarkerSilence(d, int(15*markerTestSampleRate/1000)*1000)
	if len(sink.markers) != 0 {
		t.Fatalf("expected no markers from silence, got %d", len(sink.markers))
	}
}

func TestMarkerDetectorEightHundredMsPulseProducesOneMarker(t *testing.T) {
	sink := &recordingMarkerSink{}
	d := newTestMarkerDetector(t, sink)

	// Clear the minimum-startup guard first.
	feedMarkerSilence(d, int(wwvclock.MarkerMinStartupMS/1000*markerTestSampleRate)+1000)

	pulseSamples := int(0.8 * markerTestSampleRate)
	feedMarkerTone(d, pulseSamples, d.cfg.TickHz, 1.0)
	feedMarkerSilence(d, int(1.5*markerTestSampleRate))

	if len(sink.markers) != 1 {
		t.Fatalf("expected exactly one MarkerEvent, got %d", len(sink.markers))
	}
	got := sink.markers[0].DurationMS
	if got < 500 || got > 1200 {
		t.Fatalf("expected marker duration within the validated band, got %.1fms", got)
	}
}

func TestMarkerDetectorOverlongPulseIsRejected(t *testing.T) {
	sink := &recordingMarkerSink{}
	d := newTestMarkerDetector(t, sink)
	feedMarkerSilence(d, int(wwvclock.MarkerMinStartupMS/1000*markerTestSampleRate)+1000)

	// 1.4s is past MarkerMaxDurationMSCheck (1200ms) but well under the
	// hard force-close ceiling (5000ms), so the pulse ends on its own and
	// must be rejected by the duration-check band, not the FSM timeout.
	pulseSamples := int(1.4 * markerTestSampleRate)
	feedMarkerTone(d, pulseSamples, d.cfg.TickHz, 1.0)
	feedMarkerSilence(d, int(1.5*markerTestSampleRate))

	if len(sink.markers) != 0 {
		t.Fatalf("expected a 1.4s pulse to be rejected, got %d markers", len(sink.markers))
	}
}

func TestMarkerDetectorShortPulseIsRejected(t *testing.T) {
	sink := &recordingMarkerSink{}
	d := newTestMarkerDetector(t, sink)
	feedMarkerSilence(d, int(wwvclock.MarkerMinStartupMS/1000*markerTestSampleRate)+1000)

	pulseSamples := int(0.1 * markerTestSampleRate)
	feedMarkerTone(d, pulseSamples, d.cfg.TickHz, 1.0)
	feedMarkerSilence(d, int(1.5*markerTestSampleRate))

	if len(sink.markers) != 0 {
		t.Fatalf("expected a 100ms pulse to be rejected, got %d markers", len(sink.markers))
	}
}
