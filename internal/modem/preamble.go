package modem

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/cmplxs"

	"github.com/jeongseonghan/gam-linksim/internal/config"
)

var (
	// ErrPreambleNotDetected is returned when no offset beats the threshold.
	// The accompanying Detection still carries the fallback start.
	ErrPreambleNotDetected = errors.New("preamble not detected")
	// ErrFrameTooShort is returned when the input cannot hold a search window or payload.
	ErrFrameTooShort = errors.New("frame too short")
	// ErrFrameLayout is returned when BuildFrame gets the wrong number or size of symbols.
	ErrFrameLayout = errors.New("frame layout mismatch")
)

// GeneratePreamble expands the sync word into a BPSK sequence.
// Bit i is (syncWord >> (i mod 32)) & 1; 0 maps to +1, 1 to -1.
func GeneratePreamble(length int, syncWord uint32) []complex128 {
	p := make([]complex128, length)
	for i := range p {
		if (syncWord>>(uint(i)%32))&1 == 0 {
			p[i] = 1
		} else {
			p[i] = -1
		}
	}
	return p
}

// Detection is the outcome of a preamble search.
type Detection struct {
	Offset   int     // index of the best correlation window
	Start    int     // first payload sample, or the fallback when not detected
	Score    float64 // normalized correlation at Offset
	Detected bool
}

// Framer prepends the preamble on transmit and locates it on receive.
type Framer struct {
	preamble  []complex128
	threshold float64
	symbols   int
	symbolLen int
}

// NewFramer creates a framer for frames of symbols x symbolLen payload samples.
func NewFramer(cfg config.Frame, symbols, symbolLen int) *Framer {
	return &Framer{
		preamble:  GeneratePreamble(cfg.PreambleLen, cfg.SyncWord),
		threshold: cfg.Threshold,
		symbols:   symbols,
		symbolLen: symbolLen,
	}
}

// Preamble returns the reference preamble.
func (f *Framer) Preamble() []complex128 {
	return f.preamble
}

// FrameLen returns the number of samples in one frame.
func (f *Framer) FrameLen() int {
	return len(f.preamble) + f.symbols*f.symbolLen
}

// BuildFrame concatenates the preamble and the cyclic-prefixed symbols.
func (f *Framer) BuildFrame(cpSymbols [][]complex128) ([]complex128, error) {
	if len(cpSymbols) != f.symbols {
		return nil, fmt.Errorf("%w: %d symbols, want %d", ErrFrameLayout, len(cpSymbols), f.symbols)
	}

	frame := make([]complex128, 0, f.FrameLen())
	frame = append(frame, f.preamble...)
	for i, s := range cpSymbols {
		if len(s) != f.symbolLen {
			return nil, fmt.Errorf("%w: symbol %d has %d samples, want %d", ErrFrameLayout, i, len(s), f.symbolLen)
		}
		frame = append(frame, s...)
	}
	return frame, nil
}

// Correlate returns |Σ r·conj(p)| / sqrt(Σ|r|²·Σ|p|²) for the window at offset.
// A window that runs past the input or carries no energy scores 0.
func (f *Framer) Correlate(rx []complex128, offset int) float64 {
	n := len(f.preamble)
	if offset < 0 || offset+n > len(rx) {
		return 0
	}
	window := rx[offset : offset+n]

	energy := cmplxs.Norm(window, 2) * cmplxs.Norm(f.preamble, 2)
	if energy == 0 {
		return 0
	}
	dot := cmplxs.Dot(f.preamble, window)
	return cmplx.Abs(dot) / energy
}

// DetectFrameStart searches every offset 0 <= i < len(rx)-preambleLen for the
// best correlation. The first maximum wins. On a score at or below the
// threshold it returns ErrPreambleNotDetected and a Detection whose Start
// is the nominal payload offset.
func (f *Framer) DetectFrameStart(rx []complex128) (Detection, error) {
	n := len(f.preamble)
	window := len(rx) - n
	if window <= 0 {
		return Detection{Start: n}, fmt.Errorf("%w: %d samples, preamble %d", ErrFrameTooShort, len(rx), n)
	}

	best, bestScore := 0, -1.0
	for i := 0; i < window; i++ {
		if s := f.Correlate(rx, i); s > bestScore {
			best, bestScore = i, s
		}
	}

	d := Detection{Offset: best, Score: bestScore}
	if bestScore > f.threshold {
		d.Start = best + n
		d.Detected = true
		return d, nil
	}
	d.Start = n
	return d, fmt.Errorf("%w: best %.3f at %d, threshold %.3f", ErrPreambleNotDetected, bestScore, best, f.threshold)
}

// ExtractPayload cuts the cyclic-prefixed symbols starting at start.
func (f *Framer) ExtractPayload(rx []complex128, start int) ([][]complex128, error) {
	end := start + f.symbols*f.symbolLen
	if start < 0 || end > len(rx) {
		return nil, fmt.Errorf("%w: need [%d,%d), have %d samples", ErrFrameTooShort, start, end, len(rx))
	}

	out := make([][]complex128, f.symbols)
	for i := range out {
		off := start + i*f.symbolLen
		out[i] = append([]complex128(nil), rx[off:off+f.symbolLen]...)
	}
	return out, nil
}
