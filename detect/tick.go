// Package detect implements the independent pulse detectors that run on
// the filtered sync-band and data-band channels: the tick detector, the
// minute-marker detector, the two BCD subcarrier detectors (time- and
// frequency-domain), the tone tracker, and the slow-marker scanner. Each
// detector owns its sample buffer, FFT instance and mutable state; none
// reads another's internals.
package detect

import (
	"fmt"
	"log"
	"math"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/dsp"
)

// TickSink receives events from the tick detector. A small capability
// interface rather than function-pointer callbacks.
type TickSink interface {
	OnTick(wwvclock.TickEvent)
	OnTickMarker(wwvclock.TickMarkerEvent)
}

type tickFSMState int

const (
	tickIdle tickFSMState = iota
	tickInTick
	tickCooldown
)

// TickConfig holds the tick detector's validated runtime tunables
// (ThresholdMultiplier in [1,5], MinDurationMS in [1,10]ms).
type TickConfig struct {
	TickHz              float64
	ThresholdMultiplier float64
	MinDurationMS       float64
	MaxDurationMS       float64
	CorrThresholdMult   float64
	MarkerMinDurationMS float64
	MarkerMaxDurationMS float64
	MarkerMinIntervalMS float64
	CooldownMS          float64
	GroupDelayMS        float64
	FrameSize           int
}

// DefaultTickConfig returns the WWV defaults.
func DefaultTickConfig() TickConfig {
	return TickConfig{
		TickHz:              wwvclock.StationWWV.TickHz(),
		ThresholdMultiplier: wwvclock.TickThresholdMultiplier,
		MinDurationMS:       wwvclock.TickMinDurationMS,
		MaxDurationMS:       wwvclock.TickMaxDurationMS,
		CorrThresholdMult:   wwvclock.TickCorrThresholdMult,
		MarkerMinDurationMS: wwvclock.TickMarkerMinDurationMS,
		MarkerMaxDurationMS: wwvclock.TickMarkerMaxDurationMS,
		MarkerMinIntervalMS: wwvclock.TickMarkerMinIntervalMS,
		CooldownMS:          wwvclock.TickCooldownMS,
		GroupDelayMS:        3.0,
		FrameSize:           wwvclock.TickFrameSize,
	}
}

// SetThresholdMultiplier validates and applies a new threshold multiplier,
// rejecting values outside [1,5].
func (c *TickConfig) SetThresholdMultiplier(m float64) error {
	if m < 1 || m > 5 {
		return fmt.Errorf("detect: tick threshold_multiplier %v out of range [1,5]", m)
	}
	c.ThresholdMultiplier = m
	return nil
}

// SetMinDurationMS validates and applies a new minimum tick duration,
// rejecting values outside [1,10]ms.
func (c *TickConfig) SetMinDurationMS(ms float64) error {
	if ms < 1 || ms > 10 {
		return fmt.Errorf("detect: tick min_duration_ms %v out of range [1,10]", ms)
	}
	c.MinDurationMS = ms
	return nil
}

// TickDetector runs a correlation pipeline and an energy pipeline on the
// sync-band channel, feeding a warmup-overlaid IDLE/IN_TICK/COOLDOWN state
// machine with a timing gate.
type TickDetector struct {
	cfg        TickConfig
	sampleRate float64
	msPerSamp  float64
	sink       TickSink
	logger     *log.Logger

	// energy pipeline
	fft        *dsp.FFT
	frameI     []float64
	frameQ     []float64
	frameLen   int
	frameFill  int
	frameMS    float64
	noiseFloor *wwvclock.AdaptiveThreshold

	// correlation pipeline
	template  []complex128
	ring      []complex128
	ringPos   int
	decim     int
	decimCtr  int
	corrFloor *wwvclock.AdaptiveThreshold
	corrPeak  float64

	// warmup overlay
	warmupLeft int

	// state machine
	state          tickFSMState
	durationMS     float64
	peakEnergy     float64
	cooldownLeftMS float64

	// timing
	currentMS        float64
	tickNumber       int64
	lastTickMS       float64
	haveLastTick     bool
	lastMarkerMS     float64
	haveLastMarker   bool
	rejectedCount    int64

	// timing gate
	gateEnabled     bool
	epochMS         float64
	epochSource     wwvclock.EpochSource
	epochConfidence float64
	lastAcceptedMS  float64
	haveAccepted    bool
	recovering      bool
}

// NewTickDetector constructs a detector for the given sample rate, sink and
// optional logger (nil disables logging).
func NewTickDetector(sampleRate float64, cfg TickConfig, sink TickSink, logger *log.Logger) (*TickDetector, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("detect: sample rate must be positive")
	}
	if sink == nil {
		return nil, fmt.Errorf("detect: tick detector requires a non-nil sink")
	}
	fft, err := dsp.NewFFT(cfg.FrameSize, sampleRate, dsp.WindowHann)
	if err != nil {
		return nil, fmt.Errorf("detect: tick fft: %w", err)
	}

	templateLen := int(wwvclock.TickTemplateMS / 1000 * sampleRate)
	if templateLen < 1 {
		templateLen = 1
	}
	window := dsp.NewWindow(dsp.WindowHann, templateLen)
	template := make([]complex128, templateLen)
	omega := 2 * math.Pi * cfg.TickHz / sampleRate
	for n := 0; n < templateLen; n++ {
		template[n] = complex(window[n]*math.Cos(-omega*float64(n)), window[n]*math.Sin(-omega*float64(n)))
	}

	t := &TickDetector{
		cfg:        cfg,
		sampleRate: sampleRate,
		msPerSamp:  1000 / sampleRate,
		sink:       sink,
		logger:     logger,
		fft:        fft,
		frameI:     make([]float64, cfg.FrameSize),
		frameQ:     make([]float64, cfg.FrameSize),
		frameLen:   cfg.FrameSize,
		frameMS:    float64(cfg.FrameSize) / sampleRate * 1000,
		noiseFloor: wwvclock.NewAdaptiveThreshold(wwvclock.NoiseFloorMin, wwvclock.NoiseFloorMin, wwvclock.NoiseFloorMax, cfg.ThresholdMultiplier, wwvclock.TickAdaptUp, wwvclock.TickAdaptDown),
		template:   template,
		ring:       make([]complex128, templateLen),
		decim:      wwvclock.TickCorrelationDecimation,
		corrFloor:  wwvclock.NewAdaptiveThreshold(wwvclock.NoiseFloorMin, wwvclock.NoiseFloorMin, wwvclock.NoiseFloorMax, 1, 0.001, 0.001),
		warmupLeft: wwvclock.TickWarmupFrames,
	}
	return t, nil
}

// InstallEpoch implements correlate.EpochSink, installing (or updating) the
// timing gate's reference epoch as published by the tick correlator.
func (t *TickDetector) InstallEpoch(epochMS float64, source wwvclock.EpochSource, confidence float64) {
	t.gateEnabled = true
	t.epochMS = epochMS
	t.epochSource = source
	t.epochConfidence = confidence
}

// RejectedCount returns the number of pulses rejected by classification.
func (t *TickDetector) RejectedCount() int64 { return t.rejectedCount }

// Process consumes one sync-band I/Q sample.
func (t *TickDetector) Process(i, q float64) {
	t.currentMS += t.msPerSamp
	t.processCorrelation(i, q)
	t.processEnergy(i, q)
}

func (t *TickDetector) processCorrelation(i, q float64) {
	t.ring[t.ringPos] = complex(i, q)
	t.ringPos++
	if t.ringPos >= len(t.ring) {
		t.ringPos = 0
	}
	t.decimCtr++
	if t.decimCtr < t.decim {
		return
	}
	t.decimCtr = 0

	var sum complex128
	n := len(t.ring)
	for j := 0; j < n; j++ {
		idx := t.ringPos + j
		if idx >= n {
			idx -= n
		}
		sum += t.ring[idx] * t.template[j]
	}
	mag := cmplxAbs(sum)
	if mag > t.corrPeak {
		t.corrPeak = mag
	}
	if t.state == tickIdle {
		t.corrFloor.Update(mag)
	}
}

func (t *TickDetector) processEnergy(i, q float64) {
	t.frameI[t.frameFill] = i
	t.frameQ[t.frameFill] = q
	t.frameFill++
	if t.frameFill < t.frameLen {
		return
	}
	t.frameFill = 0

	spectrum, err := t.fft.Transform(t.frameI, t.frameQ)
	if err != nil {
		return
	}
	energy := t.fft.BucketEnergy(spectrum, t.cfg.TickHz, 100)
	t.onFrame(energy)
}

func (t *TickDetector) onFrame(energy float64) {
	if t.warmupLeft > 0 {
		t.noiseFloor.FastUpdate(energy, 0.2)
		t.warmupLeft--
		return
	}

	switch t.state {
	case tickIdle:
		t.noiseFloor.Update(energy)
		if energy > t.noiseFloor.High() && t.gateOpen() {
			t.state = tickInTick
			t.durationMS = t.frameMS
			t.peakEnergy = energy
			t.corrPeak = 0
		}
	case tickInTick:
		t.durationMS += t.frameMS
		if energy > t.peakEnergy {
			t.peakEnergy = energy
		}
		if energy < t.noiseFloor.Low() {
			t.classify()
			t.state = tickCooldown
			t.cooldownLeftMS = t.cfg.CooldownMS
		}
	case tickCooldown:
		t.cooldownLeftMS -= t.frameMS
		if t.cooldownLeftMS <= 0 {
			t.state = tickIdle
		}
	}
}

func (t *TickDetector) gateOpen() bool {
	if !t.gateEnabled {
		return true
	}
	if t.haveAccepted && t.currentMS-t.lastAcceptedMS > wwvclock.TickGateRecoveryMS {
		t.recovering = true
	}
	if t.recovering {
		return true
	}
	phase := math.Mod(t.currentMS-t.epochMS, 1000)
	if phase < 0 {
		phase += 1000
	}
	return phase <= wwvclock.TickTimingGateHighMS
}

func (t *TickDetector) classify() {
	trailingEdge := t.currentMS
	d := t.durationMS
	corrRatio := 0.0
	if t.corrFloor.Baseline() > 1e-12 {
		corrRatio = t.corrPeak / t.corrFloor.Baseline()
	}

	switch {
	case d >= t.cfg.MinDurationMS && d <= t.cfg.MaxDurationMS && t.corrPeak > t.cfg.CorrThresholdMult*t.corrFloor.Baseline():
		interval := 0.0
		if t.haveLastTick {
			interval = trailingEdge - t.lastTickMS
		}
		t.lastTickMS = trailingEdge
		t.haveLastTick = true
		t.tickNumber++
		t.lastAcceptedMS = trailingEdge
		t.haveAccepted = true
		t.recovering = false
		ev := wwvclock.TickEvent{
			TickNumber:          t.tickNumber,
			TrailingEdgeMS:      trailingEdge,
			IntervalSincePrevMS: interval,
			DurationMS:          d,
			PeakEnergy:          t.peakEnergy,
			NoiseFloor:          t.noiseFloor.Baseline(),
			CorrelationPeak:     t.corrPeak,
			CorrelationRatio:    corrRatio,
		}
		t.sink.OnTick(ev)
		t.logf("tick #%d duration=%.2fms interval=%.1fms corr=%.2f", t.tickNumber, d, interval, corrRatio)

	case d >= t.cfg.MarkerMinDurationMS && d <= t.cfg.MarkerMaxDurationMS &&
		(!t.haveLastMarker || trailingEdge-t.lastMarkerMS >= t.cfg.MarkerMinIntervalMS):
		interval := 0.0
		if t.haveLastMarker {
			interval = trailingEdge - t.lastMarkerMS
		}
		t.lastMarkerMS = trailingEdge
		t.haveLastMarker = true
		ev := wwvclock.TickMarkerEvent{
			LeadingEdgeMS:       trailingEdge - d - t.cfg.GroupDelayMS,
			DurationMS:          d,
			CorrelationRatio:    corrRatio,
			IntervalSincePrevMS: interval,
		}
		t.sink.OnTickMarker(ev)
		t.logf("tick-marker duration=%.1fms interval=%.1fms", d, interval)

	default:
		t.rejectedCount++
		t.logf("rejected pulse duration=%.2fms corr=%.2f", d, corrRatio)
	}
}

func (t *TickDetector) logf(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf("[Tick] "+format, args...)
	}
}

func cmplxAbs(c complex128) float64 {
	re, im := real(c), imag(c)
	return math.Sqrt(re*re + im*im)
}
