package link

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/jeongseonghan/gam-linksim/internal/config"
	"github.com/jeongseonghan/gam-linksim/internal/fec"
	"github.com/jeongseonghan/gam-linksim/internal/modem"
)

func testConfig(snr float64) *config.Config {
	cfg := config.Default()
	cfg.Channel.SNRdB = snr
	cfg.Channel.BurstProbability = 0
	return &cfg
}

func newTestLink(t *testing.T, cfg *config.Config) *Link {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func randomPayload(rng *rand.Rand, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(rng.Intn(2))
	}
	return p
}

func TestLink_Transmit(t *testing.T) {
	l := newTestLink(t, testConfig(20))
	rng := rand.New(rand.NewSource(1))

	tx, err := l.Transmit(randomPayload(rng, 48))
	if err != nil {
		t.Fatalf("Transmit error: %v", err)
	}
	if len(tx.Block.Interleaved) != 216 {
		t.Errorf("coded bits %d, want 216", len(tx.Block.Interleaved))
	}
	if len(tx.Symbols) != 54 {
		t.Errorf("symbols %d, want 54", len(tx.Symbols))
	}
	if len(tx.Frame) != 32+14*138 {
		t.Errorf("frame length %d, want %d", len(tx.Frame), 32+14*138)
	}

	tx2, _ := l.Transmit(randomPayload(rng, 48))
	if tx2.Seq != tx.Seq+1 {
		t.Errorf("sequence did not advance: %d -> %d", tx.Seq, tx2.Seq)
	}

	if _, err := l.Transmit(make([]byte, 40)); !errors.Is(err, fec.ErrPayloadLength) {
		t.Errorf("expected ErrPayloadLength, got %v", err)
	}
}

func TestLink_NoiselessLoopback(t *testing.T) {
	for _, backend := range []string{config.TransformDFT, config.TransformFFT} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(20)
			cfg.OFDM.Transform = backend
			l := newTestLink(t, cfg)
			rng := rand.New(rand.NewSource(2))

			tx, err := l.Transmit(randomPayload(rng, 48))
			if err != nil {
				t.Fatal(err)
			}
			res, err := l.Receive(tx, tx.Frame)
			if err != nil {
				t.Fatalf("Receive error: %v", err)
			}
			if !res.CRCValid || res.BitErrors != 0 {
				t.Errorf("CRCValid=%v BitErrors=%d, want valid and 0", res.CRCValid, res.BitErrors)
			}
			if !res.PreambleDetected || res.FrameStart != 32 {
				t.Errorf("detected=%v start=%d, want true and 32", res.PreambleDetected, res.FrameStart)
			}
			if !res.OraclePass {
				t.Error("zero BER should pass the oracle check")
			}
		})
	}
}

func TestLink_HighSNR(t *testing.T) {
	l := newTestLink(t, testConfig(20))
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 8; i++ {
		res, err := l.RunOnce(randomPayload(rng, 48))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !res.CRCValid || res.BER != 0 || !res.PreambleDetected {
			t.Errorf("run %d: crc=%v ber=%.4f detected=%v", i, res.CRCValid, res.BER, res.PreambleDetected)
		}
		if res.Elapsed <= 0 {
			t.Errorf("run %d: elapsed not measured", i)
		}
	}
}

func TestLink_PhaseOffsetTracked(t *testing.T) {
	cfg := testConfig(20)
	cfg.Channel.PhaseOffset = 0.5
	l := newTestLink(t, cfg)
	rng := rand.New(rand.NewSource(4))

	for i := 0; i < 6; i++ {
		res, err := l.RunOnce(randomPayload(rng, 48))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !res.CRCValid {
			t.Errorf("run %d: CRC failed with a tracked phase offset (CFO filtered %.4f)", i, res.Tracking.CFO.Filtered)
		}
		if d := res.Tracking.CFO.Filtered - 0.5; d > 0.05 || d < -0.05 {
			t.Errorf("run %d: CFO filtered %.4f, want ~0.5", i, res.Tracking.CFO.Filtered)
		}
	}

	s := l.Session()
	if !s.SCO.HasReference() || s.SCO.Updates != 5 {
		t.Errorf("SCO updates %d, want 5 after 6 frames", s.SCO.Updates)
	}
}

func TestLink_RampSCOMode(t *testing.T) {
	cfg := testConfig(20)
	cfg.Sync.SCOMode = config.SCORamp
	l := newTestLink(t, cfg)
	rng := rand.New(rand.NewSource(5))

	for i := 0; i < 4; i++ {
		res, err := l.RunOnce(randomPayload(rng, 48))
		if err != nil {
			t.Fatal(err)
		}
		if !res.CRCValid {
			t.Errorf("run %d: CRC failed in ramp mode", i)
		}
	}
	if l.Session().SCO.Mode != modem.SCORamp {
		t.Errorf("SCO mode %q, want ramp", l.Session().SCO.Mode)
	}
}

func TestLink_LowSNRFails(t *testing.T) {
	cfg := testConfig(-5)
	cfg.Channel.BurstProbability = 0.1
	l := newTestLink(t, cfg)
	rng := rand.New(rand.NewSource(6))

	failures := 0
	detected := 0
	const runs = 10
	for i := 0; i < runs; i++ {
		res, _ := l.RunOnce(randomPayload(rng, 48))
		if !res.CRCValid {
			failures++
		}
		if res.PreambleDetected {
			detected++
		}
	}
	t.Logf("-5 dB: %d/%d failed, %d/%d preambles detected", failures, runs, detected, runs)
	if failures < runs/2 {
		t.Errorf("only %d/%d failures at -5 dB", failures, runs)
	}
}

func TestLink_BERDecreasesWithSNR(t *testing.T) {
	meanBER := func(snr float64) float64 {
		l := newTestLink(t, testConfig(snr))
		rng := rand.New(rand.NewSource(7))
		var sum float64
		const runs = 10
		for i := 0; i < runs; i++ {
			res, _ := l.RunOnce(randomPayload(rng, 48))
			if res.Failed() {
				sum += 0.5
				continue
			}
			sum += res.BER
		}
		return sum / runs
	}

	low, mid, high := meanBER(-5), meanBER(5), meanBER(20)
	t.Logf("mean BER: -5 dB %.4f, 5 dB %.4f, 20 dB %.4f", low, mid, high)
	if !(low > mid && mid >= high) {
		t.Errorf("BER not decreasing with SNR: %.4f, %.4f, %.4f", low, mid, high)
	}
}

func TestLink_ReceiveStructuralError(t *testing.T) {
	l := newTestLink(t, testConfig(20))
	rng := rand.New(rand.NewSource(8))

	tx, _ := l.Transmit(randomPayload(rng, 48))
	res, err := l.Receive(tx, tx.Frame[:500])
	if !errors.Is(err, modem.ErrFrameTooShort) {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
	if !res.Failed() || res.CRCValid {
		t.Errorf("aborted result: Failed=%v CRCValid=%v", res.Failed(), res.CRCValid)
	}
}

func TestLink_PreambleFallback(t *testing.T) {
	l := newTestLink(t, testConfig(20))
	rng := rand.New(rand.NewSource(9))

	tx, _ := l.Transmit(randomPayload(rng, 48))
	// Blank the preamble; the payload still sits at the nominal offset.
	rx := append([]complex128(nil), tx.Frame...)
	for i := 0; i < 32; i++ {
		rx[i] = 0
	}

	res, err := l.Receive(tx, rx)
	if err != nil {
		t.Fatalf("fallback should not abort: %v", err)
	}
	if res.PreambleDetected {
		t.Errorf("preamble reported detected with score %.3f", res.DetectionScore)
	}
	if res.FrameStart != 32 {
		t.Errorf("fallback start %d, want 32", res.FrameStart)
	}
	if !res.CRCValid {
		t.Error("block at the nominal offset should still decode")
	}
}

// pilotGrid returns a grid with every pilot set to v and every data RE to 1.
func pilotGrid(v complex128) *modem.Grid {
	g := modem.NewGrid(config.Default().Grid)
	for sym := 0; sym < g.Symbols; sym++ {
		for p := range g.Pilots[sym] {
			g.Pilots[sym][p] = v
		}
		for sc := 0; sc < g.Subcarriers; sc++ {
			if !g.IsPilot(sc) {
				g.Data[sym][sc] = 1
			}
		}
	}
	return g
}

func TestSession_RejectedEstimateSkipsCorrection(t *testing.T) {
	s := NewSession(config.Default().Sync)

	rep := s.Track(0, pilotGrid(cmplx.Rect(1, 0.4)))
	if !rep.CFO.Updated || !rep.CFO.Corrected {
		t.Fatalf("first frame: CFO updated=%v corrected=%v", rep.CFO.Updated, rep.CFO.Corrected)
	}

	// Every pilot is below the validity threshold.
	weak := pilotGrid(0.01)
	rep = s.Track(1, weak)
	for name, st := range map[string]TrackerState{"CFO": rep.CFO, "CPE": rep.CPE, "SCO": rep.SCO} {
		if st.Updated || st.Corrected {
			t.Errorf("%s: updated=%v corrected=%v, want both false", name, st.Updated, st.Corrected)
		}
	}
	if d := weak.Data[0][0]; d != 1 {
		t.Errorf("data RE rotated to %v (phase %.3f) by a rejected estimate", d, cmplx.Phase(d))
	}
	if math.Abs(s.CFO.Filtered-0.4) > 1e-9 {
		t.Errorf("CFO filtered %.4f, want 0.4 kept across the rejected frame", s.CFO.Filtered)
	}

	rep = s.Track(2, pilotGrid(cmplx.Rect(1, 0.4)))
	if !rep.CFO.Corrected {
		t.Error("CFO correction should resume once pilots are valid again")
	}
}
