package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// CRCBits is the width of the CRC-24A checksum appended to every transport block.
const CRCBits = 24

// SCO correction modes.
const (
	SCOUniform = "uniform" // accumulated offset applied as one rotation
	SCORamp    = "ramp"    // per-subcarrier phase ramp from a fitted gradient
)

// OFDM transform backends.
const (
	TransformDFT = "dft" // direct O(N²) summation
	TransformFFT = "fft" // gonum mixed-radix FFT
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// TransportBlock configures the transport block codec.
type TransportBlock struct {
	PayloadBits      int `yaml:"payload_bits"`
	RepetitionFactor int `yaml:"repetition_factor"`
	InterleaverRows  int `yaml:"interleaver_rows"`
	InterleaverCols  int `yaml:"interleaver_cols"`
}

// TotalBits is the payload plus CRC length.
func (t TransportBlock) TotalBits() int {
	return t.PayloadBits + CRCBits
}

// CodedBits is the length after repetition, which the interleaver must match.
func (t TransportBlock) CodedBits() int {
	return t.TotalBits() * t.RepetitionFactor
}

// Modulation selects the spiral constellation size.
type Modulation struct {
	BitsPerSymbol int `yaml:"bits_per_symbol"`
}

// Grid describes one physical resource block.
type Grid struct {
	Symbols        int     `yaml:"symbols"`
	Subcarriers    int     `yaml:"subcarriers"`
	PilotPositions []int   `yaml:"pilot_positions"`
	PilotValue     float64 `yaml:"pilot_value"`
}

// DataCapacity returns the number of resource elements available for data.
func (g Grid) DataCapacity() int {
	return (g.Subcarriers - len(g.PilotPositions)) * g.Symbols
}

// TotalPilots returns the number of pilot resource elements in the grid.
func (g Grid) TotalPilots() int {
	return len(g.PilotPositions) * g.Symbols
}

// OFDM holds transform sizes.
type OFDM struct {
	FFTSize   int    `yaml:"fft_size"`
	CPLen     int    `yaml:"cp_len"`
	Transform string `yaml:"transform"`
}

// SymbolLen returns the length of one cyclic-prefixed OFDM symbol.
func (o OFDM) SymbolLen() int {
	return o.FFTSize + o.CPLen
}

// Frame configures the preamble and its detector.
type Frame struct {
	PreambleLen int     `yaml:"preamble_len"`
	SyncWord    uint32  `yaml:"sync_word"`
	Threshold   float64 `yaml:"threshold"`
}

// Channel configures the synthetic channel.
type Channel struct {
	SNRdB            float64 `yaml:"snr_db"`
	BurstProbability float64 `yaml:"burst_probability"`
	BurstMinLen      int     `yaml:"burst_min_len"`
	BurstMaxLen      int     `yaml:"burst_max_len"`
	BurstScale       float64 `yaml:"burst_scale"`
	PhaseOffset      float64 `yaml:"phase_offset_rad"`
	PhaseDrift       float64 `yaml:"phase_drift_rad"`
}

// Sync configures the three pilot trackers.
type Sync struct {
	CFOAlpha       float64 `yaml:"cfo_alpha"`
	CPEAlpha       float64 `yaml:"cpe_alpha"`
	SCOAlpha       float64 `yaml:"sco_alpha"`
	PilotThreshold float64 `yaml:"pilot_threshold"`
	SCOMode        string  `yaml:"sco_mode"`
}

// Simulation holds driver settings.
type Simulation struct {
	Runs               int     `yaml:"runs"`
	Seed               int64   `yaml:"seed"`
	MaxRetries         int     `yaml:"max_retries"`
	OracleBERThreshold float64 `yaml:"oracle_ber_threshold"`
}

// Output configures optional sinks of the command line driver.
type Output struct {
	CapturePath string `yaml:"capture_path"`
	PushURL     string `yaml:"push_url"`
	PushJob     string `yaml:"push_job"`
	Listen      string `yaml:"listen"`
}

// Config is the single configuration set shared by a transmitter and its
// matching receiver. It is treated as immutable once validated.
type Config struct {
	TransportBlock TransportBlock `yaml:"transport_block"`
	Modulation     Modulation     `yaml:"modulation"`
	Grid           Grid           `yaml:"grid"`
	OFDM           OFDM           `yaml:"ofdm"`
	Frame          Frame          `yaml:"frame"`
	Channel        Channel        `yaml:"channel"`
	Sync           Sync           `yaml:"sync"`
	Simulation     Simulation     `yaml:"simulation"`
	Output         Output         `yaml:"output"`
}

// Default returns the NB-IoT single-PRB configuration.
func Default() Config {
	return Config{
		TransportBlock: TransportBlock{
			PayloadBits:      48,
			RepetitionFactor: 3,
			InterleaverRows:  18,
			InterleaverCols:  12,
		},
		Modulation: Modulation{BitsPerSymbol: 4},
		Grid: Grid{
			Symbols:        14,
			Subcarriers:    12,
			PilotPositions: []int{1, 4, 7, 10},
			PilotValue:     1,
		},
		OFDM: OFDM{
			FFTSize:   128,
			CPLen:     10,
			Transform: TransformDFT,
		},
		Frame: Frame{
			PreambleLen: 32,
			SyncWord:    0x2A9A5F3C,
			Threshold:   0.7,
		},
		Channel: Channel{
			SNRdB:            6,
			BurstProbability: 0.1,
			BurstMinLen:      3,
			BurstMaxLen:      5,
			BurstScale:       75,
		},
		Sync: Sync{
			CFOAlpha:       0.1,
			CPEAlpha:       0.2,
			SCOAlpha:       0.1,
			PilotThreshold: 0.1,
			SCOMode:        SCOUniform,
		},
		Simulation: Simulation{
			Runs:               10,
			Seed:               1,
			OracleBERThreshold: 0.05,
		},
		Output: Output{
			PushJob: "linksim",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Symbols returns the number of modulated symbols per transport block.
func (c *Config) Symbols() int {
	return c.TransportBlock.CodedBits() / c.Modulation.BitsPerSymbol
}

// FrameLen returns the total number of samples in one transmitted frame.
func (c *Config) FrameLen() int {
	return c.Frame.PreambleLen + c.Grid.Symbols*c.OFDM.SymbolLen()
}

// Validate checks every cross-field invariant the pipeline relies on.
func (c *Config) Validate() error {
	tb := c.TransportBlock
	if tb.PayloadBits <= 0 {
		return invalid("payload_bits must be positive, got %d", tb.PayloadBits)
	}
	if tb.RepetitionFactor < 1 {
		return invalid("repetition_factor must be >= 1, got %d", tb.RepetitionFactor)
	}
	if tb.InterleaverRows*tb.InterleaverCols != tb.CodedBits() {
		return invalid("interleaver %dx%d does not hold %d coded bits",
			tb.InterleaverRows, tb.InterleaverCols, tb.CodedBits())
	}

	bps := c.Modulation.BitsPerSymbol
	if bps < 2 || bps > 6 {
		return invalid("bits_per_symbol must be in [2,6], got %d", bps)
	}
	if tb.CodedBits()%bps != 0 {
		return invalid("%d coded bits do not split into %d-bit symbols", tb.CodedBits(), bps)
	}

	g := c.Grid
	if g.Symbols <= 0 || g.Subcarriers <= 0 {
		return invalid("grid must be non-empty, got %dx%d", g.Symbols, g.Subcarriers)
	}
	if len(g.PilotPositions) == 0 {
		return invalid("at least one pilot position is required")
	}
	seen := make(map[int]bool, len(g.PilotPositions))
	for _, p := range g.PilotPositions {
		if p < 0 || p >= g.Subcarriers {
			return invalid("pilot position %d outside [0,%d)", p, g.Subcarriers)
		}
		if seen[p] {
			return invalid("duplicate pilot position %d", p)
		}
		seen[p] = true
	}
	if len(g.PilotPositions) >= g.Subcarriers {
		return invalid("no data subcarriers left after %d pilots", len(g.PilotPositions))
	}
	if c.Symbols() > g.DataCapacity() {
		return invalid("%d symbols exceed grid capacity %d", c.Symbols(), g.DataCapacity())
	}
	if g.PilotValue == 0 {
		return invalid("pilot_value must be non-zero")
	}

	o := c.OFDM
	if o.FFTSize < g.Subcarriers {
		return invalid("fft_size %d smaller than %d subcarriers", o.FFTSize, g.Subcarriers)
	}
	if o.CPLen < 0 || o.CPLen >= o.FFTSize {
		return invalid("cp_len must be in [0,%d), got %d", o.FFTSize, o.CPLen)
	}
	if o.Transform != TransformDFT && o.Transform != TransformFFT {
		return invalid("unknown transform %q", o.Transform)
	}

	f := c.Frame
	if f.PreambleLen <= 0 {
		return invalid("preamble_len must be positive, got %d", f.PreambleLen)
	}
	if f.Threshold <= 0 || f.Threshold >= 1 {
		return invalid("threshold must be in (0,1), got %g", f.Threshold)
	}

	ch := c.Channel
	if math.IsNaN(ch.SNRdB) || math.IsInf(ch.SNRdB, 0) {
		return invalid("snr_db must be finite")
	}
	if ch.BurstProbability < 0 || ch.BurstProbability > 1 {
		return invalid("burst_probability must be in [0,1], got %g", ch.BurstProbability)
	}
	if ch.BurstMinLen < 1 || ch.BurstMaxLen < ch.BurstMinLen {
		return invalid("burst length range [%d,%d] is empty", ch.BurstMinLen, ch.BurstMaxLen)
	}
	if ch.BurstMaxLen >= c.FrameLen() {
		return invalid("burst_max_len %d does not fit a %d-sample frame", ch.BurstMaxLen, c.FrameLen())
	}

	s := c.Sync
	for name, a := range map[string]float64{"cfo_alpha": s.CFOAlpha, "cpe_alpha": s.CPEAlpha, "sco_alpha": s.SCOAlpha} {
		if a <= 0 || a > 1 {
			return invalid("%s must be in (0,1], got %g", name, a)
		}
	}
	if s.PilotThreshold < 0 {
		return invalid("pilot_threshold must be >= 0, got %g", s.PilotThreshold)
	}
	if s.SCOMode != SCOUniform && s.SCOMode != SCORamp {
		return invalid("unknown sco_mode %q", s.SCOMode)
	}

	sim := c.Simulation
	if sim.Runs < 0 {
		return invalid("runs must be >= 0, got %d", sim.Runs)
	}
	if sim.MaxRetries < 0 {
		return invalid("max_retries must be >= 0, got %d", sim.MaxRetries)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
