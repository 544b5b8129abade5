package detect

import (
	"fmt"
	"log"
	"math"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/dsp"
)

// BcdFreqConfig holds the BCD frequency-domain detector's tunables.
type BcdFreqConfig struct {
	SubcarrierHz        float64
	BandwidthHz         float64
	ThresholdMultiplier float64
	NoiseAdaptRate      float64
	MinDurationMS       float64
	MaxDurationMS       float64
	WindowFrames        int
	FrameSize           int
}

// DefaultBcdFreqConfig returns the frequency-domain detector's defaults.
func DefaultBcdFreqConfig() BcdFreqConfig {
	return BcdFreqConfig{
		SubcarrierHz:        100,
		BandwidthHz:         wwvclock.BcdFreqBandwidthHz,
		ThresholdMultiplier: wwvclock.MarkerThresholdMultiplier,
		NoiseAdaptRate:      wwvclock.MarkerNoiseAdaptRate,
		MinDurationMS:       wwvclock.BcdTimeMinDurationMS,
		MaxDurationMS:       wwvclock.BcdFreqMaxDurationMS,
		WindowFrames:        wwvclock.BcdFreqWindowFrames,
		FrameSize:           wwvclock.BcdFreqFrameSize,
	}
}

// BcdFreqDetector runs a long-frame FFT on the data channel giving narrow
// bins around 100Hz, accumulated over a sliding window, with a timeout that
// resets the baseline rather than stalling.
type BcdFreqDetector struct {
	cfg        BcdFreqConfig
	sampleRate float64
	sink       BcdPulseSink
	logger     *log.Logger

	fft       *dsp.FFT
	frameI    []float64
	frameQ    []float64
	frameLen  int
	frameFill int
	frameMS   float64

	window   *wwvclock.SlidingWindowAccumulator
	baseline float64

	state          bcdFSMState
	startMS        float64
	durationMS     float64
	peakEnergy     float64
	elapsedMS      float64
	rejectedCount  int64
}

// NewBcdFreqDetector constructs a BCD frequency-domain detector.
func NewBcdFreqDetector(sampleRate float64, cfg BcdFreqConfig, sink BcdPulseSink, logger *log.Logger) (*BcdFreqDetector, error) {
	if sink == nil {
		return nil, fmt.Errorf("detect: bcd freq detector requires a non-nil sink")
	}
	fft, err := dsp.NewFFT(cfg.FrameSize, sampleRate, dsp.WindowHann)
	if err != nil {
		return nil, fmt.Errorf("detect: bcd freq fft: %w", err)
	}
	return &BcdFreqDetector{
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

// RejectedCount returns the number of rejected pulses: those that timed out
// and those shorter than MinDurationMS.
func (b *BcdFreqDetector) RejectedCount() int64 { return b.rejectedCount }

// Process consumes one data-band I/Q sample.
func (b *BcdFreqDetector) Process(i, q float64) {
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
	frameEnergy := b.fft.BucketEnergy(spectrum, b.cfg.SubcarrierHz, b.cfg.BandwidthHz)
	accumulated := b.window.Insert(frameEnergy)
	b.elapsedMS += b.frameMS
	b.onFrame(accumulated)
}

func (b *BcdFreqDetector) onFrame(accumulated float64) {
	switch b.state {
	case bcdIdle:
		b.baseline += b.cfg.NoiseAdaptRate * (accumulated - b.baseline)
		if accumulated > b.baseline*b.cfg.ThresholdMultiplier {
			b.state = bcdInPulse
			b.startMS = b.elapsedMS - b.frameMS
			b.durationMS = b.frameMS
			b.peakEnergy = accumulated
		}
	case bcdInPulse:
		b.durationMS += b.frameMS
		if accumulated > b.peakEnergy {
			b.peakEnergy = accumulated
		}
		if b.durationMS >= b.cfg.MaxDurationMS {
			// Timeout: reset the baseline to the current accumulated energy
			// rather than emitting.
			b.baseline = accumulated
			b.rejectedCount++
			b.logf("bcd-freq pulse timed out after %.1fms, baseline reset", b.durationMS)
			b.state = bcdIdle
			return
		}
		if accumulated < b.baseline*b.cfg.ThresholdMultiplier {
			b.closePulse()
			b.state = bcdIdle
		}
	}
}

func (b *BcdFreqDetector) closePulse() {
	if b.durationMS < b.cfg.MinDurationMS {
		b.rejectedCount++
		b.logf("rejected bcd-freq pulse duration=%.1fms", b.durationMS)
		return
	}
	snr := 0.0
	if b.baseline > 1e-12 {
		snr = 20 * math.Log10(b.peakEnergy/b.baseline)
	}
	ev := wwvclock.BcdPulseEvent{
		Source:          wwvclock.BcdSourceFreq,
		StartMS:         b.startMS,
		DurationMS:      b.durationMS,
		PeakEnergy:      b.peakEnergy,
		BaselineOrFloor: b.baseline,
		SNRdB:           snr,
	}
	b.sink.OnBcdPulse(ev)
	b.logf("bcd-freq pulse start=%.1fms duration=%.1fms snr=%.1fdB", b.startMS, b.durationMS, snr)
}

func (b *BcdFreqDetector) logf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Printf("[BcdFreq] "+format, args...)
	}
}
