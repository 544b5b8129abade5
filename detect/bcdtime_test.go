package detect

import (
	"math"
	"testing"

	"github.com/cwsl/wwvclock"
)

type recordingBcdSink struct {
	pulses []wwvclock.BcdPulseEvent
}

func (r *recordingBcdSink) OnBcdPulse(ev wwvclock.BcdPulseEvent) { r.pulses = append(r.pulses, ev) }

const bcdTestSampleRate = 8000.0

func feedBcdTone(process func(i, q float64), sampleRate float64, n int, freqHz, amp float64) {
	phase := 0.0
	step := 2 * math.Pi * freqHz / sampleRate
	for k := 0; k < n; k++ {
		process(amp*math.Cos(phase), amp*math.Sin(phase))
		phase += step
	}
}

func feedBcdSilence(process func(i, q float64), n int) {
	for k := 0; k < n; k++ {
		process(0, 0)
	}
}

func newTestBcdTimeDetector(t *testing.T, sink BcdPulseSink) *BcdTimeDetector {
	t.Helper()
	cfg := DefaultBcdTimeConfig()
	d, err := NewBcdTimeDetector(bcdTestSampleRate, cfg, sink, nil)
	if err != nil {
		t.Fatalf("NewBcdTimeDetector: %v", err)
	}
	return d
}

func warmUpBcdTime(t *testing.T, d *BcdTimeDetector) {
	t.Helper()
	feedBcdSilence(d.Process, (wwvclock.TickWarmupFrames+2)*d.cfg.FrameSize)
}

func TestBcdTimeDetectorZeroSymbolPulseIsClassified(t *testing.T) {
	sink := &recordingBcdSink{}
	d := newTestBcdTimeDetector(t, sink)
	warmUpBcdTime(t, d)

	// A 200ms subcarrier pulse, the nominal duration for a BCD "0" symbol.
	pulseSamples := int(0.2 * bcdTestSampleRate)
	feedBcdTone(d.Process, bcdTestSampleRate, pulseSamples, d.cfg.SubcarrierHz, 1.0)
	feedBcdSilence(d.Process, int(0.2*bcdTestSampleRate))

	if len(sink.pulses) != 1 {
		t.Fatalf("expected exactly one BcdPulseEvent, got %d", len(sink.pulses))
	}
	ev := sink.pulses[0]
	if ev.Source != wwvclock.BcdSourceTime {
		t.Fatalf("expected BcdSourceTime, got %v", ev.Source)
	}
	if ev.DurationMS < 100 || ev.DurationMS > 300 {
		t.Fatalf("expected duration near 200ms, got %.1fms", ev.DurationMS)
	}
}

func TestBcdTimeDetectorTooShortPulseIsRejected(t *testing.T) {
	sink := &recordingBcdSink{}
	d := newTestBcdTimeDetector(t, sink)
	warmUpBcdTime(t, d)

	pulseSamples := int(0.02 * bcdTestSampleRate)
	feedBcdTone(d.Process, bcdTestSampleRate, pulseSamples, d.cfg.SubcarrierHz, 1.0)
	feedBcdSilence(d.Process, int(0.3*bcdTestSampleRate))

	if len(sink.pulses) != 0 {
		t.Fatalf("expected a sub-minimum pulse to be rejected, got %d events", len(sink.pulses))
	}
}
