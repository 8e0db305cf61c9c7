package modem

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Transform converts between one OFDM symbol's subcarriers and its time
// samples. Both directions scale by 1/√N so the pair is unitary.
type Transform interface {
	Forward(x []complex128) []complex128 // X[k] = 1/√N Σ x[n] e^{-j2πkn/N}
	Inverse(X []complex128) []complex128 // x[n] = 1/√N Σ X[k] e^{+j2πkn/N}
	Len() int
}

// DirectDFT evaluates the transform sums directly in O(N²) with a
// precomputed twiddle table.
type DirectDFT struct {
	n       int
	twiddle []complex128 // e^{-j2πm/N}
	scale   complex128
}

// NewDirectDFT creates a direct DFT of length n.
func NewDirectDFT(n int) *DirectDFT {
	d := &DirectDFT{
		n:       n,
		twiddle: make([]complex128, n),
		scale:   complex(1/math.Sqrt(float64(n)), 0),
	}
	for m := 0; m < n; m++ {
		d.twiddle[m] = cmplx.Rect(1, -2*math.Pi*float64(m)/float64(n))
	}
	return d
}

// Len returns the transform length.
func (d *DirectDFT) Len() int {
	return d.n
}

// Forward computes the scaled forward DFT.
func (d *DirectDFT) Forward(x []complex128) []complex128 {
	return d.sum(x, false)
}

// Inverse computes the scaled inverse DFT.
func (d *DirectDFT) Inverse(X []complex128) []complex128 {
	return d.sum(X, true)
}

func (d *DirectDFT) sum(in []complex128, inverse bool) []complex128 {
	out := make([]complex128, d.n)
	for k := 0; k < d.n; k++ {
		var acc complex128
		for n := 0; n < d.n; n++ {
			w := d.twiddle[(k*n)%d.n]
			if inverse {
				w = cmplx.Conj(w)
			}
			acc += in[n] * w
		}
		out[k] = acc * d.scale
	}
	return out
}

// FFT wraps gonum's mixed-radix complex FFT with the same 1/√N scaling as
// DirectDFT. It works for any length. Not safe for concurrent use.
type FFT struct {
	plan  *fourier.CmplxFFT
	scale complex128
}

// NewFFT creates an FFT of length n.
func NewFFT(n int) *FFT {
	return &FFT{
		plan:  fourier.NewCmplxFFT(n),
		scale: complex(1/math.Sqrt(float64(n)), 0),
	}
}

// Len returns the transform length.
func (f *FFT) Len() int {
	return f.plan.Len()
}

// Forward computes the scaled forward transform.
func (f *FFT) Forward(x []complex128) []complex128 {
	out := f.plan.Coefficients(nil, x)
	for i := range out {
		out[i] *= f.scale
	}
	return out
}

// Inverse computes the scaled inverse transform.
func (f *FFT) Inverse(X []complex128) []complex128 {
	out := f.plan.Sequence(nil, X)
	for i := range out {
		out[i] *= f.scale
	}
	return out
}
