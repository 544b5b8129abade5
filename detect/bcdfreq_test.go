package detect

import (
	"testing"

	"github.com/cwsl/wwvclock"
)

func newTestBcdFreqDetector(t *testing.T, sink BcdPulseSink) *BcdFreqDetector {
	t.Helper()
	cfg := DefaultBcdFreqConfig()
	d, err := NewBcdFreqDetector(bcdTestSampleRate, cfg, sink, nil)
	if err != nil {
		t.Fatalf("NewBcdFreqDetector: %v", err)
	}
	return d
}

func TestBcdFreqDetectorPulseIsClassified(t *testing.T) {
	sink := &recordingBcdSink{}
	d := newTestBcdFreqDetector(t, sink)

	// Establish a baseline over several silent frames before presenting the
	// pulse, since this detector has no separate warmup overlay.
	feedBcdSilence(d.Process, 20*d.cfg.FrameSize)

	pulseSamples := int(0.5 * bcdTestSampleRate)
	feedBcdTone(d.Process, bcdTestSampleRate, pulseSamples, d.cfg.SubcarrierHz, 1.0)
	feedBcdSilence(d.Process, 5*d.cfg.FrameSize)

	if len(sink.pulses) != 1 {
		t.Fatalf("expected exactly one BcdPulseEvent, got %d", len(sink.pulses))
	}
	if sink.pulses[0].Source != wwvclock.BcdSourceFreq {
		t.Fatalf("expected BcdSourceFreq, got %v", sink.pulses[0].Source)
	}
}

func TestBcdFreqDetectorTimeoutResetsBaselineAndRejects(t *testing.T) {
	sink := &recordingBcdSink{}
	d := newTestBcdFreqDetector(t, sink)
	feedBcdSilence(d.Process, 20*d.cfg.FrameSize)

	before := d.RejectedCount()
	// A pulse held far past MaxDurationMS must time out rather than ever
	// emitting an event, and must increment the rejected counter.
	longPulseSamples := int(2 * (d.cfg.MaxDurationMS / 1000) * bcdTestSampleRate)
	feedBcdTone(d.Process, bcdTestSampleRate, longPulseSamples, d.cfg.SubcarrierHz, 1.0)

	if len(sink.pulses) != 0 {
		t.Fatalf("expected no event from a pulse that times out, got %d", len(sink.pulses))
	}
	if d.RejectedCount() <= before {
		t.Fatalf("expected rejected count to increase after timeout, before=%d after=%d", before, d.RejectedCount())
	}
}
