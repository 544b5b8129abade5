// Package dsp provides the leaf signal-processing primitives shared by every
// detector: a windowed complex FFT, a cascaded-biquad filter bank, and a
// comb filter. None of these types know about ticks, markers or BCD —
// they are pure DSP building blocks.
package dsp

import (
	"fmt"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Window is an analysis window applied to a frame before FFT.
type Window int

const (
	// WindowHann is the default window: 0.5*(1-cos(2*pi*n/(N-1))).
	WindowHann Window = iota
	// WindowBlackmanHarris4 is the 4-term Blackman-Harris window.
	WindowBlackmanHarris4
)

// FFT wraps gonum's complex FFT with a reusable window and scratch buffers,
// matching the way the reference corpus wraps gonum.org/v1/gonum/dsp/fourier
// (audio_extensions/morse/spectrum_analyzer.go, audio_extensions/ft8/waterfall.go)
// except generalized here to complex baseband input, since every WWV/WWVH
// detector operates on I/Q samples rather than a single real channel.
//
// An FFT instance is owned exclusively by the detector that creates it —
// no detector shares an FFT instance with another.
type FFT struct {
	n          int
	sampleRate float64
	hzPerBin   float64
	window     []float64
	fft        *fourier.CmplxFFT
	scratch    []complex128
	out        []complex128
}

// NewFFT creates an FFT of size n (must be a power of two) for signals
// sampled at sampleRate Hz, using the given analysis window.
func NewFFT(n int, sampleRate float64, window Window) (*FFT, error) {
	if n <= 0 || bits.OnesCount(uint(n)) != 1 {
		return nil, fmt.Errorf("dsp: fft size %d is not a positive power of two", n)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("dsp: sample rate must be positive, got %v", sampleRate)
	}
	f := &FFT{
		n:          n,
		sampleRate: sampleRate,
		hzPerBin:   sampleRate / float64(n),
		window:     makeWindow(window, n),
		fft:        fourier.NewCmplxFFT(n),
		scratch:    make([]complex128, n),
		out:        make([]complex128, n),
	}
	return f, nil
}

// Size returns the configured FFT length.
func (f *FFT) Size() int { return f.n }

// HzPerBin returns the frequency resolution of one bin.
func (f *FFT) HzPerBin() float64 { return f.hzPerBin }

// Transform windows i/q (each of length N) and returns the complex
// spectrum. The returned slice is owned by f and is overwritten by the
// next call; callers needing to retain it must copy.
func (f *FFT) Transform(i, q []float64) ([]complex128, error) {
	if len(i) != f.n || len(q) != f.n {
		return nil, fmt.Errorf("dsp: fft expects blocks of length %d, got i=%d q=%d", f.n, len(i), len(q))
	}
	for n := 0; n < f.n; n++ {
		f.scratch[n] = complex(i[n]*f.window[n], q[n]*f.window[n])
	}
	return f.fft.Coefficients(f.out, f.scratch), nil
}

// Magnitude returns |spectrum[k]| = sqrt(re^2+im^2).
func Magnitude(spectrum []complex128, k int) float64 {
	c := spectrum[k]
	re, im := real(c), imag(c)
	return math.Sqrt(re*re + im*im)
}

// BucketEnergy sums the (N-normalized) magnitude of spectrum bins within
// +/-bandwidthHz of centerHz, around both the positive-frequency bin and
// its mirrored negative-frequency bin. A bandwidth narrower than one bin
// clamps to a single bin per side.
func (f *FFT) BucketEnergy(spectrum []complex128, centerHz, bandwidthHz float64) float64 {
	halfBins := int(math.Ceil(bandwidthHz / f.hzPerBin))
	if halfBins < 1 {
		halfBins = 1
	}
	centerBin := int(math.Round(centerHz / f.hzPerBin))

	sum := 0.0
	sum += f.sumAround(spectrum, centerBin, halfBins)
	if centerBin != 0 {
		sum += f.sumAround(spectrum, -centerBin, halfBins)
	}
	return sum
}

func (f *FFT) sumAround(spectrum []complex128, centerBin, halfBins int) float64 {
	sum := 0.0
	for d := -halfBins; d <= halfBins; d++ {
		bin := mod(centerBin+d, f.n)
		sum += Magnitude(spectrum, bin) / float64(f.n)
	}
	return sum
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

func makeWindow(w Window, n int) []float64 {
	win := make([]float64, n)
	switch w {
	case WindowBlackmanHarris4:
		const (
			a0 = 0.35875
			a1 = 0.48829
			a2 = 0.14128
			a3 = 0.01168
		)
		for k := 0; k < n; k++ {
			x := 2 * math.Pi * float64(k) / float64(n-1)
			win[k] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x) - a3*math.Cos(3*x)
		}
	default: // WindowHann
		for k := 0; k < n; k++ {
			win[k] = 0.5 * (1 - math.Cos(2*math.Pi*float64(k)/float64(n-1)))
		}
	}
	return win
}

// WindowCoefficients returns a copy of the coefficients in use, for callers (e.g. the
// matched-filter tick template) that need to apply the same window
// outside the FFT path.
func (f *FFT) WindowCoefficients() []float64 {
	out := make([]float64, len(f.window))
	copy(out, f.window)
	return out
}

// NewWindow builds a standalone window of the given kind and length,
// without constructing an FFT — used by the tick detector's matched-filter
// template (§4.4), which windows a 5ms tone but never transforms it.
func NewWindow(w Window, n int) []float64 {
	return makeWindow(w, n)
}
