package modem

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// GoldenAngle is the angular step between consecutive spiral points,
// 2π(2−φ) with φ the golden ratio.
const GoldenAngle = 2.3997569

var (
	// ErrUnsupportedBPS is returned for constellation sizes without a label table.
	ErrUnsupportedBPS = errors.New("unsupported bits per symbol")
	// ErrBitCount is returned when the bit stream does not split into whole symbols.
	ErrBitCount = errors.New("bit count not a multiple of bits per symbol")
)

// Modulation identifies a golden-angle constellation by its bits per symbol.
type Modulation int

const (
	GAM4  Modulation = 2
	GAM8  Modulation = 3
	GAM16 Modulation = 4
	GAM32 Modulation = 5
	GAM64 Modulation = 6
)

// BitsPerSymbol returns the number of bits per constellation symbol.
func (m Modulation) BitsPerSymbol() int {
	return int(m)
}

// String returns the modulation name.
func (m Modulation) String() string {
	if _, ok := bitMappings[int(m)]; !ok {
		return "Unknown"
	}
	return fmt.Sprintf("GAM-%d", 1<<int(m))
}

// Constellation holds spiral constellation points and their bit labels.
// It is read-only after construction.
type Constellation struct {
	Mod     Modulation
	points  []complex128
	labels  []int // point index -> label
	indexOf []int // label -> point index
}

// NewConstellation builds the 2^bps point spiral scaled to unit mean power.
func NewConstellation(bps int) (*Constellation, error) {
	labels, ok := bitMappings[bps]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBPS, bps)
	}

	size := 1 << bps
	c := &Constellation{
		Mod:     Modulation(bps),
		points:  make([]complex128, size),
		labels:  labels,
		indexOf: make([]int, size),
	}
	for i := 0; i < size; i++ {
		r := math.Sqrt(float64(i + 1))
		theta := float64(i+1) * GoldenAngle
		c.points[i] = cmplx.Rect(r, theta)
		c.indexOf[labels[i]] = i
	}
	c.normalize()
	return c, nil
}

func (c *Constellation) normalize() {
	var avgPower float64
	for _, p := range c.points {
		avgPower += real(p)*real(p) + imag(p)*imag(p)
	}
	avgPower /= float64(len(c.points))

	scale := complex(1.0/math.Sqrt(avgPower), 0)
	for i := range c.points {
		c.points[i] *= scale
	}
}

// Size returns the number of points.
func (c *Constellation) Size() int {
	return len(c.points)
}

// Point returns the i-th spiral point.
func (c *Constellation) Point(i int) complex128 {
	return c.points[i]
}

// Label returns the bit tuple assigned to the i-th point.
func (c *Constellation) Label(i int) []byte {
	return indexToBits(c.labels[i], c.Mod.BitsPerSymbol())
}

// Map maps one bit tuple to its constellation point.
func (c *Constellation) Map(bits []byte) complex128 {
	return c.points[c.indexOf[bitsToIndex(bits)]]
}

// Demap finds the closest constellation point and returns its bits.
// Equidistant points resolve to the lowest index.
func (c *Constellation) Demap(symbol complex128) []byte {
	minDist := math.MaxFloat64
	minIdx := 0

	for i, p := range c.points {
		d := real(symbol-p)*real(symbol-p) + imag(symbol-p)*imag(symbol-p)
		if d < minDist {
			minDist = d
			minIdx = i
		}
	}
	return c.Label(minIdx)
}

// Modulate maps a bit stream (one bit per byte) to symbols.
func (c *Constellation) Modulate(bits []byte) ([]complex128, error) {
	bps := c.Mod.BitsPerSymbol()
	if len(bits)%bps != 0 {
		return nil, fmt.Errorf("%w: %d bits at %d bps", ErrBitCount, len(bits), bps)
	}

	symbols := make([]complex128, len(bits)/bps)
	for i := range symbols {
		symbols[i] = c.Map(bits[i*bps : (i+1)*bps])
	}
	return symbols, nil
}

// Demodulate hard-decides each symbol to the nearest point.
func (c *Constellation) Demodulate(symbols []complex128) []byte {
	bits := make([]byte, 0, len(symbols)*c.Mod.BitsPerSymbol())
	for _, s := range symbols {
		bits = append(bits, c.Demap(s)...)
	}
	return bits
}

func bitsToIndex(bits []byte) int {
	idx := 0
	for _, b := range bits {
		idx = (idx << 1) | int(b&1)
	}
	return idx
}

func indexToBits(idx, numBits int) []byte {
	bits := make([]byte, numBits)
	for i := numBits - 1; i >= 0; i-- {
		bits[i] = byte(idx & 1)
		idx >>= 1
	}
	return bits
}
