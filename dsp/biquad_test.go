package dsp

import (
	"math"
	"testing"
)

func sineAt(n int, sampleRate, freqHz float64) []float64 {
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		out[k] = math.Sin(2 * math.Pi * freqHz * float64(k) / sampleRate)
	}
	return out
}

func rms(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

// TestSyncBandPassesToneAttenuatesDataBand checks that a 1000Hz tone passes
// through the sync-band filter near-unattenuated while the data-band filter
// suppresses it to near zero.
func TestSyncBandPassesToneAttenuatesDataBand(t *testing.T) {
	const sr = 50000.0
	const n = 4000
	tone := sineAt(n, sr, 1000)

	sync := NewSyncBandFilter(800, 1400, sr)
	var syncOut []float64
	for _, x := range tone {
		y, _ := sync.Filter(x, 0)
		syncOut = append(syncOut, y)
	}

	data := NewDataBandFilter(150, sr)
	var dataOut []float64
	for _, x := range tone {
		y, _ := data.Filter(x, 0)
		dataOut = append(dataOut, y)
	}

	// Settle past the transient before comparing steady-state RMS.
	tail := syncOut[n/2:]
	tailData := dataOut[n/2:]
	tailIn := tone[n/2:]

	if rms(tail) < 0.5*rms(tailIn) {
		t.Fatalf("expected sync band to pass the 1kHz tone largely unattenuated: in=%v out=%v", rms(tailIn), rms(tail))
	}
	if rms(tailData) > 0.1*rms(tailIn) {
		t.Fatalf("expected data band to strongly attenuate the 1kHz tone: in=%v out=%v", rms(tailIn), rms(tailData))
	}
}

func TestBiquadResetClearsState(t *testing.T) {
	b := NewBiquadLowpass(150, 50000)
	for i := 0; i < 100; i++ {
		b.Filter(1.0)
	}
	b.Reset()
	// Immediately after reset, filtering 0 should yield 0 (no residual memory).
	if y := b.Filter(0); y != 0 {
		t.Fatalf("expected 0 after reset+zero input, got %v", y)
	}
}
