package detect

import (
	"fmt"
	"log"
	"math"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/dsp"
)

// BcdPulseSink receives BcdPulseEvents from either BCD detector.
type BcdPulseSink interface {
	OnBcdPulse(wwvclock.BcdPulseEvent)
}

type bcdFSMState int

const (
	bcdIdle bcdFSMState = iota
	bcdInPulse
	bcdCooldown
)

// BcdTimeConfig holds the BCD time-domain detector's tunables.
type BcdTimeConfig struct {
	SubcarrierHz        float64
	BandwidthHz         float64
	ThresholdMultiplier float64
	MinDurationMS       float64
	MaxDurationMS       float64
	MinLowFrames        int
	CooldownMS          float64
	FrameSize           int
}

// DefaultBcdTimeConfig returns the time-domain detector's defaults.
func DefaultBcdTimeConfig() BcdTimeConfig {
	return BcdTimeConfig{
		SubcarrierHz:        100,
		BandwidthHz:         10,
		ThresholdMultiplier: wwvclock.TickThresholdMultiplier,
		MinDurationMS:       wwvclock.BcdTimeMinDurationMS,
		MaxDurationMS:       wwvclock.BcdTimeMaxDurationMS,
		MinLowFrames:        wwvclock.BcdTimeMinLowFrames,
		CooldownMS:          wwvclock.BcdTimeCooldownMS,
		FrameSize:           wwvclock.BcdTimeFrameSize,
	}
}

// BcdTimeDetector runs a short-frame FFT on the data channel, sized for
// millisecond edge precision, with a debounced IDLE/IN_PULSE/COOLDOWN state
// machine.
type BcdTimeDetector struct {
	cfg        BcdTimeConfig
	sampleRate float64
	sink       BcdPulseSink
	logger     *log.Logger

	fft       *dsp.FFT
	frameI    []float64
	frameQ    []float64
	frameLen  int
	frameFill int
	frameMS   float64

	noiseFloor *wwvclock.AdaptiveThreshold
	warmupLeft int

	state          bcdFSMState
	startMS        float64
	durationMS     float64
	peakEnergy     float64
	lowStreak      int
	cooldownLeftMS float64
	elapsedMS      float64
}

// NewBcdTimeDetector constructs a BCD time-domain detector on the data
// channel.
func NewBcdTimeDetector(sampleRate float64, cfg BcdTimeConfig, sink BcdPulseSink, logger *log.Logger) (*BcdTimeDetector, error) {
	if sink == nil {
		return nil, fmt.Errorf("detect: bcd time detector requires a non-nil sink")
	}
	fft, err := dsp.NewFFT(cfg.FrameSize, sampleRate, dsp.WindowHann)
	if err != nil {
		return nil, fmt.Errorf("detect: bcd time fft: %w", err)
	}
	return &BcdTimeDetector{
		cfg:        cfg,
		sampleRate: sampleRate,
		sink:       sink,
		logger:     logger,
		fft:        fft,
		frameI:     make([]float64, cfg.FrameSize),
		frameQ:     make([]float64, cfg.FrameSize),
		frameLen:   cfg.FrameSize,
		frameMS:    float64(cfg.FrameSize) / sampleRate * 1000,
		noiseFloor: wwvclock.NewAdaptiveThreshold(wwvclock.NoiseFloorMin, wwvclock.NoiseFloorMin, wwvclock.NoiseFloorMax, cfg.ThresholdMultiplier, wwvclock.TickAdaptUp, wwvclock.TickAdaptDown),
		warmupLeft: wwvclock.TickWarmupFrames,
	}, nil
}

// Process consumes one data-band I/Q sample.
func (b *BcdTimeDetector) Process(i, q float64) {
	b.frameI[b.frameFill] = i
	b.frameQ[b.frameFill] = q
	b.frameFill++
	if b.frameFill < b.frameLen {
		return
	}
	b.frameFill = 0

	spectrum, err := b.fft.Transform(b.frameI, b.frameQ)
	if err != nil {
		return
	}
	energy := b.fft.BucketEnergy(spectrum, b.cfg.SubcarrierHz, b.cfg.BandwidthHz)
	b.elapsedMS += b.frameMS
	b.onFrame(energy)
}

func (b *BcdTimeDetector) onFrame(energy float64) {
	if b.warmupLeft > 0 {
		b.noiseFloor.FastUpdate(energy, 0.2)
		b.warmupLeft--
		return
	}

	switch b.state {
	case bcdIdle:
		b.noiseFloor.Update(energy)
		if energy > b.noiseFloor.High() {
			b.state = bcdInPulse
			b.startMS = b.elapsedMS - b.frameMS
			b.durationMS = b.frameMS
			b.peakEnergy = energy
			b.lowStreak = 0
		}
	case bcdInPulse:
		b.durationMS += b.frameMS
		if energy > b.peakEnergy {
			b.peakEnergy = energy
		}
		if energy < b.noiseFloor.Low() {
			b.lowStreak++
		} else {
			b.lowStreak = 0
		}
		if b.lowStreak >= b.cfg.MinLowFrames {
			b.closePulse()
			b.state = bcdCooldown
			b.cooldownLeftMS = b.cfg.CooldownMS
		}
	case bcdCooldown:
		b.cooldownLeftMS -= b.frameMS
		if b.cooldownLeftMS <= 0 {
			b.state = bcdIdle
		}
	}
}

func (b *BcdTimeDetector) closePulse() {
	// Debounce frames are counted toward duration but represent the pulse
	// having already ended MinLowFrames*frameMS earlier.
	effective := b.durationMS - float64(b.lowStreak)*b.frameMS
	snr := 0.0
	if b.noiseFloor.Baseline() > 1e-12 {
		snr = 20 * math.Log10(b.peakEnergy/b.noiseFloor.Baseline())
	}
	if effective < b.cfg.MinDurationMS || effective > b.cfg.MaxDurationMS {
		b.logf("rejected pulse duration=%.1fms", effective)
		return
	}
	ev := wwvclock.BcdPulseEvent{
		Source:          wwvclock.BcdSourceTime,
		StartMS:         b.startMS,
		DurationMS:      effective,
		PeakEnergy:      b.peakEnergy,
		BaselineOrFloor: b.noiseFloor.Baseline(),
		SNRdB:           snr,
	}
	b.sink.OnBcdPulse(ev)
	b.logf("pulse start=%.1fms duration=%.1fms snr=%.1fdB", b.startMS, effective, snr)
}

func (b *BcdTimeDetector) logf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Printf("[BcdTime] "+format, args...)
	}
}
