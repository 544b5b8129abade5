package detect

import (
	"fmt"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/dsp"
)

// SlowMarkerConfig configures the slow-marker scanner.
type SlowMarkerConfig struct {
	TickHz              float64
	BandwidthHz         float64
	ThresholdMultiplier float64
	NoiseAdaptRate      float64
	WindowFrames        int
	FrameSize           int
}

// DefaultSlowMarkerConfig mirrors the minute-marker detector's defaults,
// since the slow path is a long-window spectral check at the same
// frequency.
func DefaultSlowMarkerConfig() SlowMarkerConfig {
	return SlowMarkerConfig{
		TickHz:              wwvclock.StationWWV.TickHz(),
		BandwidthHz:         wwvclock.MarkerBandwidthHz,
		ThresholdMultiplier: wwvclock.MarkerThresholdMultiplier,
		NoiseAdaptRate:      wwvclock.MarkerNoiseAdaptRate,
		WindowFrames:        wwvclock.MarkerWindowFrames * 2,
		FrameSize:           wwvclock.MarkerFrameSize,
	}
}

// SlowMarkerScanner is a long-window spectral energy check at the tick
// frequency whose only role is to publish a spectral confidence value to
// the marker correlator — it never feeds the sync detector directly, and
// its result is advisory only.
type SlowMarkerScanner struct {
	cfg        SlowMarkerConfig
	sampleRate float64

	fft       *dsp.FFT
	frameI    []float64
	frameQ    []float64
	frameLen  int
	frameFill int
	frameMS   float64
	elapsedMS float64

	window   *wwvclock.SlidingWindowAccumulator
	baseline float64
}

// NewSlowMarkerScanner constructs the scanner.
func NewSlowMarkerScanner(sampleRate float64, cfg SlowMarkerConfig) (*SlowMarkerScanner, error) {
	fft, err := dsp.NewFFT(cfg.FrameSize, sampleRate, dsp.WindowHann)
	if err != nil {
		return nil, fmt.Errorf("detect: slow marker fft: %w", err)
	}
	return &SlowMarkerScanner{
		cfg:        cfg,
		sampleRate: sampleRate,
		fft:        fft,
		frameI:     make([]float64, cfg.FrameSize),
		frameQ:     make([]float64, cfg.FrameSize),
		frameLen:   cfg.FrameSize,
		frameMS:    float64(cfg.FrameSize) / sampleRate * 1000,
		window:     wwvclock.NewSlidingWindowAccumulator(cfg.WindowFrames),
	}, nil
}

// Process consumes one sync-band sample, returning (timestampMS,
// aboveThreshold, true) whenever a frame completes.
func (s *SlowMarkerScanner) Process(i, q float64) (float64, bool, bool) {
	s.frameI[s.frameFill] = i
	s.frameQ[s.frameFill] = q
	s.frameFill++
	if s.frameFill < s.frameLen {
		return 0, false, false
	}
	s.frameFill = 0
	s.elapsedMS += s.frameMS

	spectrum, err := s.fft.Transform(s.frameI, s.frameQ)
	if err != nil {
		return 0, false, false
	}
	frameEnergy := s.fft.BucketEnergy(spectrum, s.cfg.TickHz, s.cfg.BandwidthHz)
	accumulated := s.window.Insert(frameEnergy)
	s.baseline += s.cfg.NoiseAdaptRate * (accumulated - s.baseline)

	above := accumulated > s.baseline*s.cfg.ThresholdMultiplier
	return s.elapsedMS, above, true
}
