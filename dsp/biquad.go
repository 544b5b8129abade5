package dsp

import "math"

// Biquad is a second-order IIR section evaluated in direct form I, keeping
// the last two inputs and the last two outputs:
//
//	y = b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2
//
// Grounded on audio_extensions/navtex/biquad.go's BiQuadFilter, generalized
// here to a coefficient-table constructor so a filter bank can be built
// either from cutoff/rate or from a precomputed second-order-section table.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// SOS is one row of a second-order-section table: (b0, b1, b2, a0, a1, a2).
// a0 is carried for table fidelity but coefficients are stored normalized.
type SOS struct {
	B0, B1, B2 float64
	A0, A1, A2 float64
}

// NewBiquadFromSOS builds a biquad directly from a precomputed SOS row.
func NewBiquadFromSOS(s SOS) *Biquad {
	return &Biquad{
		b0: s.B0 / s.A0,
		b1: s.B1 / s.A0,
		b2: s.B2 / s.A0,
		a1: s.A1 / s.A0,
		a2: s.A2 / s.A0,
	}
}

// NewBiquadLowpass designs an RBJ-cookbook lowpass biquad at the given
// cutoff/sample rate with Butterworth Q (1/sqrt(2)) for cascading into a
// 4th-order section pair.
func NewBiquadLowpass(cutoffHz, sampleRate float64) *Biquad {
	return newBiquad(cutoffHz, sampleRate, butterworthQ, lowpassCoeffs)
}

// NewBiquadHighpass designs an RBJ-cookbook highpass biquad.
func NewBiquadHighpass(cutoffHz, sampleRate float64) *Biquad {
	return newBiquad(cutoffHz, sampleRate, butterworthQ, highpassCoeffs)
}

const butterworthQ = 0.70710678118654752 // 1/sqrt(2)

func newBiquad(freq, sampleRate, q float64, coeffs func(cosOmega, alpha float64) SOS) *Biquad {
	omega := 2 * math.Pi * freq / sampleRate
	sinOmega, cosOmega := math.Sin(omega), math.Cos(omega)
	alpha := sinOmega / (2 * q)
	return NewBiquadFromSOS(coeffs(cosOmega, alpha))
}

func lowpassCoeffs(cosOmega, alpha float64) SOS {
	b0 := (1 - cosOmega) / 2
	b1 := 1 - cosOmega
	b2 := (1 - cosOmega) / 2
	a0 := 1 + alpha
	a1 := -2 * cosOmega
	a2 := 1 - alpha
	return SOS{b0, b1, b2, a0, a1, a2}
}

func highpassCoeffs(cosOmega, alpha float64) SOS {
	b0 := (1 + cosOmega) / 2
	b1 := -(1 + cosOmega)
	b2 := (1 + cosOmega) / 2
	a0 := 1 + alpha
	a1 := -2 * cosOmega
	a2 := 1 - alpha
	return SOS{b0, b1, b2, a0, a1, a2}
}

// Filter processes one sample through the section.
func (f *Biquad) Filter(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Reset clears the filter's delay-line state.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// Cascade chains biquad sections in series, used to build 4th-order
// bandpass/lowpass filter banks from pairs of 2nd-order sections.
type Cascade struct {
	stages []*Biquad
}

// NewCascade wraps the given stages, applied in order.
func NewCascade(stages ...*Biquad) *Cascade {
	return &Cascade{stages: stages}
}

// Filter runs x through every stage in order.
func (c *Cascade) Filter(x float64) float64 {
	for _, s := range c.stages {
		x = s.Filter(x)
	}
	return x
}

// Reset resets every stage.
func (c *Cascade) Reset() {
	for _, s := range c.stages {
		s.Reset()
	}
}

// ComplexCascade runs two parallel cascaded-biquad paths, processing the I
// and Q channels of a complex-baseband stream separately.
type ComplexCascade struct {
	I, Q *Cascade
}

// Filter processes one I/Q sample pair.
func (c *ComplexCascade) Filter(i, q float64) (float64, float64) {
	return c.I.Filter(i), c.Q.Filter(q)
}

// Reset resets both channels.
func (c *ComplexCascade) Reset() {
	c.I.Reset()
	c.Q.Reset()
}

// NewSyncBandFilter builds a 4th-order Butterworth bandpass (highpass-then-
// lowpass biquad pairs, one pair per channel) isolating the sync-tone band.
func NewSyncBandFilter(lowHz, highHz, sampleRate float64) *ComplexCascade {
	build := func() *Cascade {
		return NewCascade(
			NewBiquadHighpass(lowHz, sampleRate),
			NewBiquadLowpass(highHz, sampleRate),
		)
	}
	return &ComplexCascade{I: build(), Q: build()}
}

// NewDataBandFilter builds a 4th-order Butterworth lowpass (two lowpass
// biquads per channel) isolating the subcarrier data band.
func NewDataBandFilter(cutoffHz, sampleRate float64) *ComplexCascade {
	build := func() *Cascade {
		// Section Qs of a 4th-order Butterworth: 1/(2cos(pi/8)), 1/(2cos(3pi/8)).
		return NewCascade(
			newBiquad(cutoffHz, sampleRate, 0.54119610014619698, lowpassCoeffs),
			newBiquad(cutoffHz, sampleRate, 1.30656296487637652, lowpassCoeffs),
		)
	}
	return &ComplexCascade{I: build(), Q: build()}
}
