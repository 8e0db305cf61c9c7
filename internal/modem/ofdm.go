package modem

import (
	"errors"
	"fmt"

	"github.com/jeongseonghan/gam-linksim/internal/config"
)

// ErrSymbolLength is returned when a time-domain symbol has the wrong length.
var ErrSymbolLength = errors.New("ofdm symbol length mismatch")

// OFDM maps a PRB grid onto a block of centred FFT bins and back.
type OFDM struct {
	fftSize int
	cpLen   int
	start   int // first FFT bin of the PRB
	tr      Transform
}

// NewOFDM creates an OFDM stage using the configured transform backend.
func NewOFDM(cfg config.OFDM, subcarriers int) (*OFDM, error) {
	var tr Transform
	switch cfg.Transform {
	case config.TransformDFT, "":
		tr = NewDirectDFT(cfg.FFTSize)
	case config.TransformFFT:
		tr = NewFFT(cfg.FFTSize)
	default:
		return nil, fmt.Errorf("unknown transform %q", cfg.Transform)
	}
	return &OFDM{
		fftSize: cfg.FFTSize,
		cpLen:   cfg.CPLen,
		start:   cfg.FFTSize/2 - subcarriers/2,
		tr:      tr,
	}, nil
}

// FFTSize returns the transform length.
func (o *OFDM) FFTSize() int {
	return o.fftSize
}

// CPLen returns the cyclic prefix length.
func (o *OFDM) CPLen() int {
	return o.cpLen
}

// StartBin returns the FFT bin holding subcarrier 0.
func (o *OFDM) StartBin() int {
	return o.start
}

// GridToTimeDomain produces one FFT-length time symbol per grid row.
// Pilot REs take their value from grid.Pilots.
func (o *OFDM) GridToTimeDomain(g *Grid) [][]complex128 {
	out := make([][]complex128, g.Symbols)
	for sym := 0; sym < g.Symbols; sym++ {
		bins := make([]complex128, o.fftSize)
		for sc := 0; sc < g.Subcarriers; sc++ {
			k := o.start + sc
			if k < 0 || k >= o.fftSize {
				continue
			}
			if p := g.pilotIndex[sc]; p >= 0 {
				bins[k] = g.Pilots[sym][p]
			} else {
				bins[k] = g.Data[sym][sc]
			}
		}
		out[sym] = o.tr.Inverse(bins)
	}
	return out
}

// TimeDomainToGrid transforms each time symbol back and demultiplexes the
// PRB bins into g.Data and g.Pilots.
func (o *OFDM) TimeDomainToGrid(symbols [][]complex128, g *Grid) error {
	if len(symbols) != g.Symbols {
		return fmt.Errorf("%w: %d symbols, grid has %d", ErrSymbolLength, len(symbols), g.Symbols)
	}

	for sym, td := range symbols {
		if len(td) != o.fftSize {
			return fmt.Errorf("%w: symbol %d has %d samples, want %d", ErrSymbolLength, sym, len(td), o.fftSize)
		}
		bins := o.tr.Forward(td)
		for sc := 0; sc < g.Subcarriers; sc++ {
			k := o.start + sc
			if k < 0 || k >= o.fftSize {
				continue
			}
			if p := g.pilotIndex[sc]; p >= 0 {
				g.Pilots[sym][p] = bins[k]
				g.Data[sym][sc] = 0
			} else {
				g.Data[sym][sc] = bins[k]
			}
		}
	}
	return nil
}

// AddCyclicPrefix prepends the last cpLen samples of each symbol.
func (o *OFDM) AddCyclicPrefix(symbols [][]complex128) [][]complex128 {
	out := make([][]complex128, len(symbols))
	for i, s := range symbols {
		out[i] = addCyclicPrefix(s, o.cpLen)
	}
	return out
}

// RemoveCyclicPrefix drops the first cpLen samples of each symbol.
func (o *OFDM) RemoveCyclicPrefix(symbols [][]complex128) ([][]complex128, error) {
	out := make([][]complex128, len(symbols))
	for i, s := range symbols {
		if len(s) != o.fftSize+o.cpLen {
			return nil, fmt.Errorf("%w: symbol %d has %d samples, want %d", ErrSymbolLength, i, len(s), o.fftSize+o.cpLen)
		}
		out[i] = append([]complex128(nil), s[o.cpLen:]...)
	}
	return out, nil
}

func addCyclicPrefix(symbol []complex128, cpLen int) []complex128 {
	n := len(symbol)
	out := make([]complex128, cpLen+n)
	copy(out, symbol[n-cpLen:])
	copy(out[cpLen:], symbol)
	return out
}
