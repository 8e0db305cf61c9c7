package modem

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/jeongseonghan/gam-linksim/internal/config"
)

// phasedGrid returns a grid whose pilots sit at phase(sym, sc) and whose
// data REs all hold 1+0j.
func phasedGrid(phase func(sym, sc int) float64) *Grid {
	g := NewGrid(config.Default().Grid)
	for sym := 0; sym < g.Symbols; sym++ {
		for p, sc := range g.PilotPositions {
			g.Pilots[sym][p] = cmplx.Rect(1, phase(sym, sc))
		}
		for sc := 0; sc < g.Subcarriers; sc++ {
			if !g.IsPilot(sc) {
				g.Data[sym][sc] = 1
			}
		}
	}
	return g
}

func constPhase(theta float64) func(int, int) float64 {
	return func(int, int) float64 { return theta }
}

func TestCFOTracker_EstimateAndCorrect(t *testing.T) {
	tr := NewCFOTracker(0.1, 0.1)
	g := phasedGrid(constPhase(0.3))

	if tr.Correct(g) {
		t.Error("Correct should be skipped before the first estimate")
	}
	if err := tr.Update(g); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if math.Abs(tr.Filtered-0.3) > 1e-9 {
		t.Errorf("first Filtered = %f, want 0.3", tr.Filtered)
	}
	if tr.PilotsUsed != 56 {
		t.Errorf("PilotsUsed = %d, want 56", tr.PilotsUsed)
	}

	if !tr.Correct(g) {
		t.Fatal("Correct should apply once initialized")
	}
	for sym := range g.Pilots {
		for p, v := range g.Pilots[sym] {
			if cmplx.Abs(v-1) > 1e-9 {
				t.Fatalf("pilot [%d][%d] = %v after correction", sym, p, v)
			}
		}
	}
	want := cmplx.Rect(1, -0.3)
	if cmplx.Abs(g.Data[0][0]-want) > 1e-9 {
		t.Errorf("data = %v, want %v", g.Data[0][0], want)
	}
}

func TestCFOTracker_IIR(t *testing.T) {
	tr := NewCFOTracker(0.1, 0.1)
	_ = tr.Update(phasedGrid(constPhase(0.3)))
	_ = tr.Update(phasedGrid(constPhase(0.5)))

	if math.Abs(tr.Estimate-0.5) > 1e-9 {
		t.Errorf("Estimate = %f, want 0.5", tr.Estimate)
	}
	want := 0.1*0.5 + 0.9*0.3
	if math.Abs(tr.Filtered-want) > 1e-9 {
		t.Errorf("Filtered = %f, want %f", tr.Filtered, want)
	}
}

func TestCFOTracker_InsufficientPilots(t *testing.T) {
	tr := NewCFOTracker(0.1, 0.1)
	g := phasedGrid(constPhase(0))
	for sym := range g.Pilots {
		for p := range g.Pilots[sym] {
			if sym > 3 {
				g.Pilots[sym][p] = 0.05
			}
		}
	}

	err := tr.Update(g)
	if !errors.Is(err, ErrInsufficientPilots) {
		t.Fatalf("expected ErrInsufficientPilots, got %v", err)
	}
	if tr.PilotsUsed != 16 {
		t.Errorf("PilotsUsed = %d, want 16", tr.PilotsUsed)
	}
	if tr.Initialized {
		t.Error("tracker should stay uninitialized")
	}
}

func TestCFOTracker_Degenerate(t *testing.T) {
	tr := NewCFOTracker(0.1, 0.1)
	g := phasedGrid(func(sym, sc int) float64 {
		if sc == 1 || sc == 7 {
			return 0
		}
		return math.Pi
	})
	for sym := range g.Pilots {
		g.Pilots[sym][1] = -1
		g.Pilots[sym][3] = -1
	}

	if err := tr.Update(g); !errors.Is(err, ErrDegenerateEstimate) {
		t.Errorf("expected ErrDegenerateEstimate, got %v", err)
	}
}

func TestCPETracker_RotatesDataOnly(t *testing.T) {
	tr := NewCPETracker(0.2, 0.1)
	g := phasedGrid(func(sym, _ int) float64 { return 0.2 + 0.01*float64(sym%2) })

	if err := tr.Update(g); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if tr.PilotsUsed != 14 {
		t.Errorf("PilotsUsed = %d symbols, want 14", tr.PilotsUsed)
	}
	if math.Abs(tr.Filtered-0.205) > 1e-4 {
		t.Errorf("Filtered = %f, want ~0.205", tr.Filtered)
	}

	before := g.Pilots[0][0]
	tr.Correct(g)
	if g.Pilots[0][0] != before {
		t.Error("CPE correction must not touch pilots")
	}
	if math.Abs(cmplx.Phase(g.Data[0][0])+tr.Filtered) > 1e-9 {
		t.Errorf("data phase %f, want %f", cmplx.Phase(g.Data[0][0]), -tr.Filtered)
	}
}

func TestCPETracker_Gate(t *testing.T) {
	tr := NewCPETracker(0.2, 0.1)
	g := phasedGrid(constPhase(0.1))
	for sym := 6; sym < g.Symbols; sym++ {
		for p := range g.Pilots[sym] {
			g.Pilots[sym][p] = 0
		}
	}

	if err := tr.Update(g); !errors.Is(err, ErrInsufficientPilots) {
		t.Fatalf("expected ErrInsufficientPilots with 6/14 symbols, got %v", err)
	}

	g.Pilots[6][0] = 1
	if err := tr.Update(g); err != nil {
		t.Errorf("7/14 symbols should pass: %v", err)
	}
}

func TestSCOTracker_Uniform(t *testing.T) {
	tr := NewSCOTracker(0.1, 0.1, SCOUniform)

	if err := tr.Update(phasedGrid(constPhase(0))); err != nil {
		t.Fatalf("first Update error: %v", err)
	}
	if tr.Initialized || !tr.HasReference() {
		t.Fatal("first frame should only seed the reference")
	}

	_ = tr.Update(phasedGrid(constPhase(0.05)))
	g := phasedGrid(constPhase(0.10))
	if err := tr.Update(g); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	if math.Abs(tr.Filtered-0.05) > 1e-9 {
		t.Errorf("Filtered = %f, want 0.05", tr.Filtered)
	}
	if math.Abs(tr.Accumulated-0.10) > 1e-9 {
		t.Errorf("Accumulated = %f, want 0.10", tr.Accumulated)
	}
	if tr.Updates != 2 {
		t.Errorf("Updates = %d, want 2", tr.Updates)
	}

	tr.Correct(g)
	if math.Abs(cmplx.Phase(g.Data[3][0])+0.10) > 1e-9 {
		t.Errorf("data phase %f, want -0.10", cmplx.Phase(g.Data[3][0]))
	}
}

func TestSCOTracker_Ramp(t *testing.T) {
	tr := NewSCOTracker(0.1, 0.1, SCORamp)
	_ = tr.Update(phasedGrid(constPhase(0.2)))

	g := phasedGrid(func(_, sc int) float64 { return 0.2 + 0.02*float64(sc) })
	if err := tr.Update(g); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if math.Abs(tr.Estimate-0.02) > 1e-9 {
		t.Errorf("slope = %f, want 0.02", tr.Estimate)
	}
	if tr.Accumulated != tr.Filtered {
		t.Error("ramp mode holds the filtered slope, not a running sum")
	}

	tr.Correct(g)
	for _, sc := range []int{0, 6, 11} {
		want := -0.02 * float64(sc-6)
		if got := cmplx.Phase(g.Data[0][sc]); math.Abs(got-want) > 1e-9 {
			t.Errorf("subcarrier %d phase %f, want %f", sc, got, want)
		}
	}
}

func TestSCOTracker_StoresEveryFrame(t *testing.T) {
	tr := NewSCOTracker(0.1, 0.1, SCOUniform)
	_ = tr.Update(phasedGrid(constPhase(0)))

	dead := phasedGrid(constPhase(0))
	for sym := range dead.Pilots {
		for p := range dead.Pilots[sym] {
			dead.Pilots[sym][p] = 0
		}
	}
	if err := tr.Update(dead); !errors.Is(err, ErrInsufficientPilots) {
		t.Fatalf("expected ErrInsufficientPilots, got %v", err)
	}

	// The dead frame replaced the reference, so the next one cannot pair up either.
	if err := tr.Update(phasedGrid(constPhase(0.1))); !errors.Is(err, ErrInsufficientPilots) {
		t.Errorf("expected ErrInsufficientPilots against a dead reference, got %v", err)
	}
}

// trackerFeed returns a function that feeds one frame whose estimate is
// theta and returns the tracker's filtered value afterwards.
type trackerFeed func(t *testing.T, theta float64) float64

func cfoFeed(alpha float64) trackerFeed {
	tr := NewCFOTracker(alpha, 0.1)
	return func(t *testing.T, theta float64) float64 {
		if err := tr.Update(phasedGrid(constPhase(theta))); err != nil {
			t.Fatalf("cfo Update: %v", err)
		}
		return tr.Filtered
	}
}

func cpeFeed(alpha float64) trackerFeed {
	tr := NewCPETracker(alpha, 0.1)
	return func(t *testing.T, theta float64) float64 {
		if err := tr.Update(phasedGrid(constPhase(theta))); err != nil {
			t.Fatalf("cpe Update: %v", err)
		}
		return tr.Filtered
	}
}

// scoFeed advances the pilot phase by theta per frame. The reference frame
// is stored up front so the first fed frame already yields an estimate.
func scoFeed(alpha float64) trackerFeed {
	tr := NewSCOTracker(alpha, 0.1, SCOUniform)
	phase := 0.0
	_ = tr.Update(phasedGrid(constPhase(phase)))
	return func(t *testing.T, theta float64) float64 {
		phase += theta
		if err := tr.Update(phasedGrid(constPhase(phase))); err != nil {
			t.Fatalf("sco Update: %v", err)
		}
		return tr.Filtered
	}
}

func TestTrackers_AlphaTradesSpeedForStability(t *testing.T) {
	const (
		theta  = 0.3
		eps    = 0.01
		jitter = 0.05
		limit  = 200
	)

	// updatesToConverge seeds the filter at 0 and counts the updates with a
	// constant theta until the filtered value is within eps.
	updatesToConverge := func(t *testing.T, feed trackerFeed) int {
		feed(t, 0)
		for n := 1; n <= limit; n++ {
			if math.Abs(feed(t, theta)-theta) < eps {
				return n
			}
		}
		t.Fatalf("no convergence within %d updates", limit)
		return 0
	}

	// swing feeds theta±jitter alternately after convergence and returns the
	// largest excursion of the filtered value from theta.
	swing := func(t *testing.T, feed trackerFeed) float64 {
		updatesToConverge(t, feed)
		var worst float64
		for n := 0; n < 40; n++ {
			in := theta + jitter
			if n%2 == 1 {
				in = theta - jitter
			}
			if d := math.Abs(feed(t, in) - theta); n >= 20 && d > worst {
				worst = d
			}
		}
		return worst
	}

	tests := []struct {
		name string
		feed func(alpha float64) trackerFeed
	}{
		{"cfo", cfoFeed},
		{"cpe", cpeFeed},
		{"sco uniform", scoFeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fast := updatesToConverge(t, tt.feed(0.5))
			slow := updatesToConverge(t, tt.feed(0.1))
			if fast >= slow {
				t.Errorf("alpha 0.5 took %d updates, alpha 0.1 took %d; want fewer for 0.5", fast, slow)
			}
			// e_n = theta(1-alpha)^n
			if want := int(math.Ceil(math.Log(eps/theta) / math.Log(0.5))); fast != want {
				t.Errorf("alpha 0.5 converged in %d updates, want %d", fast, want)
			}

			loose := swing(t, tt.feed(0.5))
			steady := swing(t, tt.feed(0.1))
			if steady >= loose {
				t.Errorf("alpha 0.1 swing %.4f not below alpha 0.5 swing %.4f", steady, loose)
			}
			t.Logf("updates %d vs %d, swing %.4f vs %.4f", fast, slow, loose, steady)
		})
	}
}
