package detect

import (
	"fmt"
	"math"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/dsp"
)

// ToneConfig holds the tone tracker's parameters.
type ToneConfig struct {
	NominalHz       float64
	SearchHalfWidth int
	ExclusionGuard  int
	MinSNRdB        float64
	FrameSize       int
}

// DefaultToneConfig returns the default tuning for a given reference tone
// (0, 500 or 600 Hz).
func DefaultToneConfig(nominalHz float64) ToneConfig {
	return ToneConfig{
		NominalHz:       nominalHz,
		SearchHalfWidth: wwvclock.ToneSearchHalfWidthBins,
		ExclusionGuard:  wwvclock.ToneExclusionGuardBins,
		MinSNRdB:        wwvclock.ToneMinSNRdB,
		FrameSize:       wwvclock.BcdFreqFrameSize,
	}
}

// ToneTracker is an FFT-based frequency estimator with dual-sideband
// averaging and parabolic interpolation, used to track the 0/500/600Hz
// reference tones on the display-rate feed.
type ToneTracker struct {
	cfg        ToneConfig
	sampleRate float64

	fft       *dsp.FFT
	frameI    []float64
	frameQ    []float64
	frameLen  int
	frameFill int

	last wwvclock.ToneMeasurement
}

// NewToneTracker constructs a tone tracker.
func NewToneTracker(sampleRate float64, cfg ToneConfig) (*ToneTracker, error) {
	fft, err := dsp.NewFFT(cfg.FrameSize, sampleRate, dsp.WindowHann)
	if err != nil {
		return nil, fmt.Errorf("detect: tone fft: %w", err)
	}
	return &ToneTracker{
		cfg:        cfg,
		sampleRate: sampleRate,
		fft:        fft,
		frameI:     make([]float64, cfg.FrameSize),
		frameQ:     make([]float64, cfg.FrameSize),
		frameLen:   cfg.FrameSize,
	}, nil
}

// Process consumes one display-rate I/Q sample, returning (measurement,
// true) whenever a frame completes.
func (t *ToneTracker) Process(i, q float64) (wwvclock.ToneMeasurement, bool) {
	t.frameI[t.frameFill] = i
	t.frameQ[t.frameFill] = q
	t.frameFill++
	if t.frameFill < t.frameLen {
		return wwvclock.ToneMeasurement{}, false
	}
	t.frameFill = 0

	spectrum, err := t.fft.Transform(t.frameI, t.frameQ)
	if err != nil {
		return wwvclock.ToneMeasurement{}, false
	}
	t.last = t.measure(spectrum)
	return t.last, true
}

func (t *ToneTracker) measure(spectrum []complex128) wwvclock.ToneMeasurement {
	n := t.fft.Size()
	hzPerBin := t.fft.HzPerBin()
	centerBin := int(math.Round(t.cfg.NominalHz / hzPerBin))
	s := t.cfg.SearchHalfWidth

	var usbBin, lsbBin int
	var usbMag, lsbMag float64
	var measuredHz float64
	if t.cfg.NominalHz == 0 {
		// Carrier case: a single peak near DC, which may land on either
		// side of zero; the mirrored-bin search collapses to one window.
		usbBin, usbMag = searchPeak(spectrum, n, 0, s)
		lsbBin, lsbMag = usbBin, usbMag
		measuredHz = (float64(usbBin) + parabolicOffset(spectrum, n, usbBin)) * hzPerBin
	} else {
		usbBin, usbMag = searchPeak(spectrum, n, centerBin, s)
		lsbBin, lsbMag = searchPeak(spectrum, n, -centerBin, s)
		usbHz := (float64(usbBin) + parabolicOffset(spectrum, n, usbBin)) * hzPerBin
		lsbHz := -(float64(lsbBin) + parabolicOffset(spectrum, n, lsbBin)) * hzPerBin
		measuredHz = (usbHz + lsbHz) / 2
	}

	noiseFloor := exclusionMeanMagnitude(spectrum, n, centerBin, s+t.cfg.ExclusionGuard)
	peakMag := math.Max(usbMag, lsbMag)
	snrDB := 20 * math.Log10(peakMag/(noiseFloor+1e-10))

	offsetHz := measuredHz - t.cfg.NominalHz
	offsetPPM := 0.0
	if t.cfg.NominalHz != 0 {
		offsetPPM = offsetHz / t.cfg.NominalHz * 1e6
	}

	return wwvclock.ToneMeasurement{
		MeasuredHz: measuredHz,
		OffsetHz:   offsetHz,
		OffsetPPM:  offsetPPM,
		SNRdB:      snrDB,
		Valid:      snrDB >= t.cfg.MinSNRdB,
	}
}

// searchPeak finds the strongest magnitude bin within [centerBin-s,
// centerBin+s] (signed, may extend negative), returning the signed bin
// index (not wrapped) and its magnitude.
func searchPeak(spectrum []complex128, n, centerBin, s int) (int, float64) {
	bestBin := centerBin - s
	bestMag := -1.0
	for d := -s; d <= s; d++ {
		signed := centerBin + d
		idx := mod(signed, n)
		mag := dsp.Magnitude(spectrum, idx)
		if mag > bestMag {
			bestMag = mag
			bestBin = signed
		}
	}
	return bestBin, bestMag
}

// parabolicOffset refines a peak's fractional bin offset using its
// neighbors:
//
//	p = 0.5*(alpha-gamma)/(alpha - 2*beta + gamma)
func parabolicOffset(spectrum []complex128, n, signedBin int) float64 {
	alpha := dsp.Magnitude(spectrum, mod(signedBin-1, n))
	beta := dsp.Magnitude(spectrum, mod(signedBin, n))
	gamma := dsp.Magnitude(spectrum, mod(signedBin+1, n))
	denom := alpha - 2*beta + gamma
	if math.Abs(denom) <= 1e-10 {
		return 0
	}
	return 0.5 * (alpha - gamma) / denom
}

// exclusionMeanMagnitude computes the mean magnitude over all bins except
// those within guard bins of +centerBin or -centerBin.
func exclusionMeanMagnitude(spectrum []complex128, n, centerBin, guard int) float64 {
	var sum float64
	var count int
	for idx := 0; idx < n; idx++ {
		if circularNear(idx, n, centerBin, guard) || circularNear(idx, n, -centerBin, guard) {
			continue
		}
		sum += dsp.Magnitude(spectrum, idx)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func circularNear(idx, n, target, guard int) bool {
	d := mod(idx-mod(target, n), n)
	if d > n/2 {
		d = n - d
	}
	return d <= guard
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
