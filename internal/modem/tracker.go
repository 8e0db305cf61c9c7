package modem

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/stat"

	"github.com/jeongseonghan/gam-linksim/internal/config"
)

// Both errors are recoverable: the caller skips this frame's correction and
// the filter keeps its last value.
var (
	ErrInsufficientPilots = errors.New("insufficient valid pilots")
	ErrDegenerateEstimate = errors.New("degenerate phase estimate")
)

// minResultant is the smallest phasor magnitude whose argument is trusted.
const minResultant = 1e-12

// Filter is the first-order IIR smoothing shared by all trackers.
// The first accepted estimate seeds Filtered directly.
type Filter struct {
	Alpha       float64
	Estimate    float64
	Filtered    float64
	PilotsUsed  int
	Initialized bool
}

func (f *Filter) update(estimate float64) {
	f.Estimate = estimate
	if !f.Initialized {
		f.Filtered = estimate
		f.Initialized = true
		return
	}
	f.Filtered = f.Alpha*estimate + (1-f.Alpha)*f.Filtered
}

func rotate(row []complex128, rot complex128) {
	for i := range row {
		row[i] *= rot
	}
}

// CFOTracker estimates the residual carrier frequency offset as the mean
// pilot phase over the whole grid.
type CFOTracker struct {
	Filter
	threshold float64
}

// NewCFOTracker creates a CFO tracker.
func NewCFOTracker(alpha, pilotThreshold float64) *CFOTracker {
	return &CFOTracker{Filter: Filter{Alpha: alpha}, threshold: pilotThreshold}
}

// Update estimates from every valid pilot. At least a third of all pilots
// must be valid.
func (t *CFOTracker) Update(g *Grid) error {
	var acc complex128
	valid := 0
	ref := cmplx.Conj(g.PilotValue)
	for sym := range g.Pilots {
		for _, p := range g.Pilots[sym] {
			if cmplx.Abs(p) > t.threshold {
				acc += p * ref
				valid++
			}
		}
	}
	t.PilotsUsed = valid

	if valid < g.TotalPilots()/3 {
		return fmt.Errorf("cfo: %w: %d/%d", ErrInsufficientPilots, valid, g.TotalPilots())
	}
	if cmplx.Abs(acc) < minResultant {
		return fmt.Errorf("cfo: %w", ErrDegenerateEstimate)
	}
	t.update(cmplx.Phase(acc))
	return nil
}

// Correct de-rotates data and pilots by the filtered offset.
// It reports false when no estimate has been accepted yet.
func (t *CFOTracker) Correct(g *Grid) bool {
	if !t.Initialized {
		return false
	}
	rot := cmplx.Rect(1, -t.Filtered)
	for sym := 0; sym < g.Symbols; sym++ {
		rotate(g.Data[sym], rot)
		rotate(g.Pilots[sym], rot)
	}
	return true
}

// CPETracker estimates the common phase error as the circular mean of the
// per-symbol pilot phases.
type CPETracker struct {
	Filter
	threshold float64
}

// NewCPETracker creates a CPE tracker.
func NewCPETracker(alpha, pilotThreshold float64) *CPETracker {
	return &CPETracker{Filter: Filter{Alpha: alpha}, threshold: pilotThreshold}
}

// Update estimates one angle per OFDM symbol and averages them as unit
// vectors. At least half the symbols must carry a valid pilot.
// PilotsUsed counts symbols, not pilots.
func (t *CPETracker) Update(g *Grid) error {
	var acc complex128
	symbols := 0
	ref := cmplx.Conj(g.PilotValue)
	for sym := range g.Pilots {
		var symAcc complex128
		valid := 0
		for _, p := range g.Pilots[sym] {
			if cmplx.Abs(p) > t.threshold {
				symAcc += p * ref
				valid++
			}
		}
		if valid > 0 {
			acc += cmplx.Rect(1, cmplx.Phase(symAcc))
			symbols++
		}
	}
	t.PilotsUsed = symbols

	if symbols < g.Symbols/2 {
		return fmt.Errorf("cpe: %w: %d/%d symbols", ErrInsufficientPilots, symbols, g.Symbols)
	}
	if cmplx.Abs(acc) < minResultant {
		return fmt.Errorf("cpe: %w", ErrDegenerateEstimate)
	}
	t.update(cmplx.Phase(acc))
	return nil
}

// Correct de-rotates data only. Pilots keep their post-CFO phase.
func (t *CPETracker) Correct(g *Grid) bool {
	if !t.Initialized {
		return false
	}
	rot := cmplx.Rect(1, -t.Filtered)
	for sym := 0; sym < g.Symbols; sym++ {
		rotate(g.Data[sym], rot)
	}
	return true
}

// SCOMode selects how the sampling clock offset is modelled and removed.
type SCOMode string

const (
	// SCOUniform tracks the mean inter-frame pilot rotation and removes the
	// running sum as one common rotation.
	SCOUniform SCOMode = config.SCOUniform
	// SCORamp fits the inter-frame phase difference against subcarrier index
	// and removes a linear phase ramp centred on the PRB.
	SCORamp SCOMode = config.SCORamp
)

// SCOTracker compares each frame's pilots against the previous frame's.
type SCOTracker struct {
	Filter
	Mode        SCOMode
	Accumulated float64
	Updates     int

	threshold float64
	prev      [][]complex128
}

// NewSCOTracker creates an SCO tracker.
func NewSCOTracker(alpha, pilotThreshold float64, mode SCOMode) *SCOTracker {
	if mode == "" {
		mode = SCOUniform
	}
	return &SCOTracker{Filter: Filter{Alpha: alpha}, Mode: mode, threshold: pilotThreshold}
}

// HasReference reports whether a previous frame's pilots are stored.
func (t *SCOTracker) HasReference() bool {
	return t.prev != nil
}

// Update estimates against the stored pilots, then stores the current ones.
// The first call only seeds the store. At least half of all pilot pairs must
// have both ends valid.
func (t *SCOTracker) Update(g *Grid) error {
	prev := t.prev
	t.prev = g.PilotSnapshot()
	if prev == nil {
		return nil
	}

	var xs, ys []float64
	for sym := range g.Pilots {
		if sym >= len(prev) {
			break
		}
		for p, cur := range g.Pilots[sym] {
			if p >= len(prev[sym]) {
				break
			}
			old := prev[sym][p]
			if cmplx.Abs(cur) > t.threshold && cmplx.Abs(old) > t.threshold {
				xs = append(xs, float64(g.PilotPositions[p]))
				ys = append(ys, cmplx.Phase(cur*cmplx.Conj(old)))
			}
		}
	}
	t.PilotsUsed = len(ys)

	if len(ys) < g.TotalPilots()/2 {
		return fmt.Errorf("sco: %w: %d/%d pairs", ErrInsufficientPilots, len(ys), g.TotalPilots())
	}

	switch t.Mode {
	case SCORamp:
		if v := stat.Variance(xs, nil); !(v >= minResultant) {
			return fmt.Errorf("sco: %w: pilots share one subcarrier", ErrDegenerateEstimate)
		}
		_, slope := stat.LinearRegression(xs, ys, nil, false)
		t.update(slope)
		t.Accumulated = t.Filtered
	default:
		t.update(stat.Mean(ys, nil))
		t.Accumulated += t.Filtered
	}
	t.Updates++
	return nil
}

// Correct removes the accumulated offset from the data REs.
func (t *SCOTracker) Correct(g *Grid) bool {
	if !t.Initialized {
		return false
	}
	if t.Mode == SCORamp {
		centre := float64(g.Subcarriers / 2)
		for sc := 0; sc < g.Subcarriers; sc++ {
			rot := cmplx.Rect(1, -t.Accumulated*(float64(sc)-centre))
			for sym := 0; sym < g.Symbols; sym++ {
				g.Data[sym][sc] *= rot
			}
		}
		return true
	}

	rot := cmplx.Rect(1, -t.Accumulated)
	for sym := 0; sym < g.Symbols; sym++ {
		rotate(g.Data[sym], rot)
	}
	return true
}
