package modem

import (
	"errors"
	"fmt"

	"github.com/jeongseonghan/gam-linksim/internal/config"
)

// ErrGridCapacity is returned when more symbols are requested than data REs exist.
var ErrGridCapacity = errors.New("grid capacity exceeded")

// Grid is one PRB: a symbols x subcarriers block of resource elements.
// Pilot positions are fixed per subcarrier and never carry data; their
// received values live in Pilots, indexed by position order.
type Grid struct {
	Symbols        int
	Subcarriers    int
	PilotPositions []int
	PilotValue     complex128

	Data   [][]complex128 // [symbol][subcarrier], zero at pilot positions
	Pilots [][]complex128 // [symbol][pilot]

	pilotIndex []int // subcarrier -> pilot slot, -1 for data
}

// NewGrid creates an empty grid with every pilot set to the pilot value.
func NewGrid(cfg config.Grid) *Grid {
	g := &Grid{
		Symbols:        cfg.Symbols,
		Subcarriers:    cfg.Subcarriers,
		PilotPositions: append([]int(nil), cfg.PilotPositions...),
		PilotValue:     complex(cfg.PilotValue, 0),
		Data:           make([][]complex128, cfg.Symbols),
		Pilots:         make([][]complex128, cfg.Symbols),
		pilotIndex:     make([]int, cfg.Subcarriers),
	}
	for sc := range g.pilotIndex {
		g.pilotIndex[sc] = -1
	}
	for p, sc := range g.PilotPositions {
		g.pilotIndex[sc] = p
	}
	for sym := 0; sym < g.Symbols; sym++ {
		g.Data[sym] = make([]complex128, g.Subcarriers)
		g.Pilots[sym] = make([]complex128, len(g.PilotPositions))
		for p := range g.Pilots[sym] {
			g.Pilots[sym][p] = g.PilotValue
		}
	}
	return g
}

// IsPilot reports whether the subcarrier carries a pilot.
func (g *Grid) IsPilot(sc int) bool {
	return g.pilotIndex[sc] >= 0
}

// Capacity returns the number of data resource elements.
func (g *Grid) Capacity() int {
	return (g.Subcarriers - len(g.PilotPositions)) * g.Symbols
}

// TotalPilots returns the number of pilot resource elements.
func (g *Grid) TotalPilots() int {
	return len(g.PilotPositions) * g.Symbols
}

// MapData places symbols on data REs walking symbol-major, subcarrier-minor
// and skipping pilots. Unused REs stay zero.
func (g *Grid) MapData(symbols []complex128) error {
	if len(symbols) > g.Capacity() {
		return fmt.Errorf("%w: %d symbols, %d data REs", ErrGridCapacity, len(symbols), g.Capacity())
	}

	idx := 0
	for sym := 0; sym < g.Symbols && idx < len(symbols); sym++ {
		for sc := 0; sc < g.Subcarriers && idx < len(symbols); sc++ {
			if g.IsPilot(sc) {
				continue
			}
			g.Data[sym][sc] = symbols[idx]
			idx++
		}
	}
	return nil
}

// ExtractData reads the first n data REs in the same order MapData wrote them.
func (g *Grid) ExtractData(n int) ([]complex128, error) {
	if n > g.Capacity() {
		return nil, fmt.Errorf("%w: %d symbols, %d data REs", ErrGridCapacity, n, g.Capacity())
	}

	out := make([]complex128, 0, n)
	for sym := 0; sym < g.Symbols && len(out) < n; sym++ {
		for sc := 0; sc < g.Subcarriers && len(out) < n; sc++ {
			if !g.IsPilot(sc) {
				out = append(out, g.Data[sym][sc])
			}
		}
	}
	return out, nil
}

// PilotSnapshot returns a deep copy of the pilot matrix.
func (g *Grid) PilotSnapshot() [][]complex128 {
	snap := make([][]complex128, len(g.Pilots))
	for sym := range g.Pilots {
		snap[sym] = append([]complex128(nil), g.Pilots[sym]...)
	}
	return snap
}
