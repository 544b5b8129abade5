package wwvclock

// AdaptiveThreshold tracks a slowly-adapting baseline/noise-floor scalar and
// derives hysteresis thresholds from it:
//
//	threshold_high = baseline * thresholdMultiplier
//	threshold_low  = threshold_high * hysteresisRatio
//
// with asymmetric attack/decay adaptation. The tick detector (energy noise
// floor and correlation floor) and the BCD time-domain detector each own
// their own instances; none are shared. The marker, slow-marker and BCD
// frequency-domain detectors do not use this type: they keep a plain
// baseline float that is not clamped.
type AdaptiveThreshold struct {
	baseline    float64
	min, max    float64
	multiplier  float64
	hysteresis  float64
	adaptUp     float64 // slow rise when energy is above baseline
	adaptDown   float64 // fast decay when energy is below baseline
}

// HysteresisRatio is the fixed ratio between threshold_low and
// threshold_high.
const HysteresisRatio = 0.7

// NewAdaptiveThreshold creates a tracker seeded at initial, clamped to
// [min, max], adapting up at adaptUp and down at adaptDown per sample/frame.
func NewAdaptiveThreshold(initial, min, max, multiplier, adaptUp, adaptDown float64) *AdaptiveThreshold {
	return &AdaptiveThreshold{
		baseline:   clamp(initial, min, max),
		min:        min,
		max:        max,
		multiplier: multiplier,
		hysteresis: HysteresisRatio,
		adaptUp:    adaptUp,
		adaptDown:  adaptDown,
	}
}

// Update adapts the baseline toward energy with asymmetric rates (fast
// decay below baseline, slow rise above) and returns the updated baseline.
func (t *AdaptiveThreshold) Update(energy float64) float64 {
	if energy < t.baseline {
		t.baseline += t.adaptDown * (energy - t.baseline)
	} else {
		t.baseline += t.adaptUp * (energy - t.baseline)
	}
	t.baseline = clamp(t.baseline, t.min, t.max)
	return t.baseline
}

// FastUpdate applies a symmetric adaptation rate regardless of direction,
// used by a detector's warmup overlay to converge quickly before normal
// asymmetric tracking begins.
func (t *AdaptiveThreshold) FastUpdate(energy, rate float64) float64 {
	t.baseline += rate * (energy - t.baseline)
	t.baseline = clamp(t.baseline, t.min, t.max)
	return t.baseline
}

// Baseline returns the current tracked value.
func (t *AdaptiveThreshold) Baseline() float64 { return t.baseline }

// High returns threshold_high.
func (t *AdaptiveThreshold) High() float64 { return t.baseline * t.multiplier }

// Low returns threshold_low.
func (t *AdaptiveThreshold) Low() float64 { return t.High() * t.hysteresis }

// SetMultiplier updates the threshold multiplier, a validated runtime
// tunable.
func (t *AdaptiveThreshold) SetMultiplier(m float64) { t.multiplier = m }

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
