package detect

import (
	"fmt"
	"log"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/dsp"
)

// MarkerSink receives events from the minute-marker detector.
type MarkerSink interface {
	OnMarker(wwvclock.MarkerEvent)
}

type markerFSMState int

const (
	markerIdle markerFSMState = iota
	markerInMarker
	markerCooldown
)

// MarkerConfig holds the minute-marker detector's tunables
// (ThresholdMultiplier in [2,5], NoiseAdaptRate in [1e-4,1e-2],
// MinDurationMS in [300,700]ms).
type MarkerConfig struct {
	TickHz              float64
	BandwidthHz         float64
	ThresholdMultiplier float64
	NoiseAdaptRate      float64
	WarmupAdaptRate     float64
	MinStartupMS        float64
	MaxDurationMS       float64
	MinDurationMS       float64
	MaxDurationMSCheck  float64
	CooldownMS          float64
	WindowFrames        int
	FrameSize           int
}

// DefaultMarkerConfig returns the minute-marker detector's defaults.
func DefaultMarkerConfig() MarkerConfig {
	return MarkerConfig{
		TickHz:              wwvclock.StationWWV.TickHz(),
		BandwidthHz:         wwvclock.MarkerBandwidthHz,
		ThresholdMultiplier: wwvclock.MarkerThresholdMultiplier,
		NoiseAdaptRate:      wwvclock.MarkerNoiseAdaptRate,
		WarmupAdaptRate:     wwvclock.MarkerWarmupAdaptRate,
		MinStartupMS:        wwvclock.MarkerMinStartupMS,
		MaxDurationMS:       wwvclock.MarkerMaxDurationMS,
		MinDurationMS:       wwvclock.MarkerMinDurationMS,
		MaxDurationMSCheck:  wwvclock.MarkerMaxDurationMSCheck,
		CooldownMS:          wwvclock.MarkerCooldownMS,
		WindowFrames:        wwvclock.MarkerWindowFrames,
		FrameSize:           wwvclock.MarkerFrameSize,
	}
}

// SetThresholdMultiplier validates against the [2,5] range.
func (c *MarkerConfig) SetThresholdMultiplier(m float64) error {
	if m < 2 || m > 5 {
		return fmt.Errorf("detect: marker threshold_multiplier %v out of range [2,5]", m)
	}
	c.ThresholdMultiplier = m
	return nil
}

// SetNoiseAdaptRate validates against the [1e-4,1e-2] range.
func (c *MarkerConfig) SetNoiseAdaptRate(r float64) error {
	if r < 1e-4 || r > 1e-2 {
		return fmt.Errorf("detect: marker noise_adapt_rate %v out of range [1e-4,1e-2]", r)
	}
	c.NoiseAdaptRate = r
	return nil
}

// SetMinDurationMS validates against the [300,700]ms range.
func (c *MarkerConfig) SetMinDurationMS(ms float64) error {
	if ms < 300 || ms > 700 {
		return fmt.Errorf("detect: marker min_duration_ms %v out of range [300,700]", ms)
	}
	c.MinDurationMS = ms
	return nil
}

// MarkerDetector computes per-frame FFT energy at the tick frequency,
// integrated over a ~1s sliding window, against a self-tracked baseline.
type MarkerDetector struct {
	cfg        MarkerConfig
	sampleRate float64
	sink       MarkerSink
	logger     *log.Logger

	fft       *dsp.FFT
	frameI    []float64
	frameQ    []float64
	frameLen  int
	frameFill int
	frameMS   float64

	window   *wwvclock.SlidingWindowAccumulator
	baseline float64

	state          markerFSMState
	durationMS     float64
	peakEnergy     float64
	cooldownLeftMS float64
	elapsedMS      float64

	trailingEdgeMS  float64
	haveLastMarker  bool
}

// NewMarkerDetector constructs a minute-marker detector.
func NewMarkerDetector(sampleRate float64, cfg MarkerConfig, sink MarkerSink, logger *log.Logger) (*MarkerDetector, error) {
	if sink == nil {
		return nil, fmt.Errorf("detect: marker detector requires a non-nil sink")
	}
	fft, err := dsp.NewFFT(cfg.FrameSize, sampleRate, dsp.WindowHann)
	if err != nil {
		return nil, fmt.Errorf("detect: marker fft: %w", err)
	}
	return &MarkerDetector{
		cfg:        cfg,
		sampleRate: sampleRate,
		sink:       sink,
		logger:     logger,
		fft:        fft,
		frameI:     make([]float64, cfg.FrameSize),
		frameQ:     make([]float64, cfg.FrameSize),
		frameLen:   cfg.FrameSize,
		frameMS:    float64(cfg.FrameSize) / sampleRate * 1000,
		window:     wwvclock.NewSlidingWindowAccumulator(cfg.WindowFrames),
	}, nil
}

// Process consumes one sync-band I/Q sample.
func (m *MarkerDetector) Process(i, q float64) {
	m.frameI[m.frameFill] = i
	m.frameQ[m.frameFill] = q
	m.frameFill++
	if m.frameFill < m.frameLen {
		return
	}
	m.frameFill = 0

	spectrum, err := m.fft.Transform(m.frameI, m.frameQ)
	if err != nil {
		return
	}
	frameEnergy := m.fft.BucketEnergy(spectrum, m.cfg.TickHz, m.cfg.BandwidthHz)
	accumulated := m.window.Insert(frameEnergy)
	m.elapsedMS += m.frameMS
	m.onFrame(accumulated)
}

func (m *MarkerDetector) onFrame(accumulated float64) {
	switch m.state {
	case markerIdle:
		rate := m.cfg.NoiseAdaptRate
		if m.elapsedMS < float64(m.cfg.WindowFrames)*m.frameMS {
			rate = m.cfg.WarmupAdaptRate
		}
		m.baseline += rate * (accumulated - m.baseline)

		if m.elapsedMS < m.cfg.MinStartupMS {
			return
		}
		if accumulated > m.baseline*m.cfg.ThresholdMultiplier {
			m.state = markerInMarker
			m.durationMS = m.frameMS
			m.peakEnergy = accumulated
		}
	case markerInMarker:
		m.durationMS += m.frameMS
		if accumulated > m.peakEnergy {
			m.peakEnergy = accumulated
		}
		if accumulated < m.baseline*m.cfg.ThresholdMultiplier || m.durationMS >= m.cfg.MaxDurationMS {
			m.closeMarker()
			m.state = markerCooldown
			m.cooldownLeftMS = m.cfg.CooldownMS
		}
	case markerCooldown:
		m.cooldownLeftMS -= m.frameMS
		if m.cooldownLeftMS <= 0 {
			m.state = markerIdle
		}
	}
}

func (m *MarkerDetector) closeMarker() {
	if m.durationMS < m.cfg.MinDurationMS || m.durationMS > m.cfg.MaxDurationMSCheck {
		m.logf("rejected marker duration=%.1fms", m.durationMS)
		return
	}
	m.trailingEdgeMS = m.elapsedMS
	m.haveLastMarker = true
	ev := wwvclock.MarkerEvent{
		TrailingEdgeMS:        m.trailingEdgeMS,
		DurationMS:            m.durationMS,
		PeakAccumulatedEnergy: m.peakEnergy,
		Baseline:              m.baseline,
	}
	m.sink.OnMarker(ev)
	m.logf("marker duration=%.1fms peak=%.4f baseline=%.4f", m.durationMS, m.peakEnergy, m.baseline)
}

func (m *MarkerDetector) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf("[Marker] "+format, args...)
	}
}
