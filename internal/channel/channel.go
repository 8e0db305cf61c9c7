package channel

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/cmplxs"

	"github.com/jeongseonghan/gam-linksim/internal/config"
)

// ErrDegenerateSignal is returned when the input carries no usable power.
var ErrDegenerateSignal = errors.New("signal power too low")

const (
	// minPower is the mean power below which SNR scaling is undefined.
	minPower = 1e-10
	// minUniform is the smallest Box-Muller u1 accepted before log(u1).
	minUniform = 1e-10
)

// Impairment describes what the channel did to the last frame.
type Impairment struct {
	NoiseStd   float64 // per-component AWGN standard deviation
	Phase      float64 // carrier rotation applied to the whole frame
	Burst      bool
	BurstStart int
	BurstLen   int
}

// Channel adds AWGN, occasional high-power bursts and an optional carrier
// phase rotation to a frame. It is not safe for concurrent use.
type Channel struct {
	cfg  config.Channel
	rng  *rand.Rand
	sent int
	last Impairment
}

// New creates a channel drawing from a PRNG seeded with seed.
func New(cfg config.Channel, seed uint64) *Channel {
	return &Channel{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// SetSNR changes the operating point for subsequent frames.
func (c *Channel) SetSNR(snrDB float64) {
	c.cfg.SNRdB = snrDB
}

// SNR returns the configured SNR in dB.
func (c *Channel) SNR() float64 {
	return c.cfg.SNRdB
}

// Last returns the impairments applied by the most recent Apply.
func (c *Channel) Last() Impairment {
	return c.last
}

// Noise draws one complex Gaussian sample with the given per-component
// standard deviation using the Box-Muller transform.
func (c *Channel) Noise(stddev float64) complex128 {
	var u1, u2 float64
	for {
		u1 = c.rng.Float64()
		u2 = c.rng.Float64()
		if u1 > minUniform {
			break
		}
	}
	radius := math.Sqrt(-2 * math.Log(u1))
	angle := 2 * math.Pi * u2
	return complex(radius*math.Cos(angle)*stddev, radius*math.Sin(angle)*stddev)
}

// MeanPower returns the mean of |x|² over the slice.
func MeanPower(x []complex128) float64 {
	if len(x) == 0 {
		return 0
	}
	n := cmplxs.Norm(x, 2)
	return n * n / float64(len(x))
}

// Apply returns a noisy copy of in. Noise power is the input mean power
// divided by the linear SNR. With the configured probability a burst of
// noise at BurstScale times the AWGN deviation is added on top of a short
// contiguous run of samples.
func (c *Channel) Apply(in []complex128) ([]complex128, error) {
	power := MeanPower(in)
	if power <= minPower {
		return nil, fmt.Errorf("%w: mean power %g", ErrDegenerateSignal, power)
	}

	noisePower := power / math.Pow(10, c.cfg.SNRdB/10)
	stddev := math.Sqrt(noisePower / 2)

	imp := Impairment{
		NoiseStd: stddev,
		Phase:    c.cfg.PhaseOffset + c.cfg.PhaseDrift*float64(c.sent),
	}
	c.sent++

	rot := cmplx.Rect(1, imp.Phase)
	out := make([]complex128, len(in))
	for i, s := range in {
		out[i] = s*rot + c.Noise(stddev)
	}

	if c.cfg.BurstProbability > 0 && c.rng.Float64() < c.cfg.BurstProbability && len(in) > c.cfg.BurstMaxLen {
		imp.Burst = true
		imp.BurstStart = c.rng.Intn(len(in) - c.cfg.BurstMaxLen)
		imp.BurstLen = c.cfg.BurstMinLen + c.rng.Intn(c.cfg.BurstMaxLen-c.cfg.BurstMinLen+1)
		for i := imp.BurstStart; i < imp.BurstStart+imp.BurstLen && i < len(out); i++ {
			out[i] += c.Noise(stddev * c.cfg.BurstScale)
		}
	}

	c.last = imp
	return out, nil
}
