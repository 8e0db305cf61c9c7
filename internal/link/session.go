package link

import (
	"log"

	"github.com/jeongseonghan/gam-linksim/internal/config"
	"github.com/jeongseonghan/gam-linksim/internal/modem"
)

// TrackerState is a snapshot of one tracker after a frame.
type TrackerState struct {
	Estimate    float64 `json:"estimate"`
	Filtered    float64 `json:"filtered"`
	PilotsUsed  int     `json:"pilots_used"`
	Updated     bool    `json:"updated"`
	Corrected   bool    `json:"corrected"`
	Accumulated float64 `json:"accumulated,omitempty"`
}

// TrackingReport collects the three tracker snapshots for one frame.
type TrackingReport struct {
	CFO TrackerState `json:"cfo"`
	CPE TrackerState `json:"cpe"`
	SCO TrackerState `json:"sco"`
}

// Session owns the synchronization trackers. It is the only receiver state
// that carries over from one transmission to the next and is never reset
// during a run.
type Session struct {
	CFO *modem.CFOTracker
	CPE *modem.CPETracker
	SCO *modem.SCOTracker
}

// NewSession creates fresh trackers from the sync settings.
func NewSession(cfg config.Sync) *Session {
	return &Session{
		CFO: modem.NewCFOTracker(cfg.CFOAlpha, cfg.PilotThreshold),
		CPE: modem.NewCPETracker(cfg.CPEAlpha, cfg.PilotThreshold),
		SCO: modem.NewSCOTracker(cfg.SCOAlpha, cfg.PilotThreshold, modem.SCOMode(cfg.SCOMode)),
	}
}

// Track runs CFO, CPE and SCO in that order over a received grid. A tracker
// whose estimate is rejected skips its correction for this frame; its
// filtered value is kept for the next one.
func (s *Session) Track(seq int, g *modem.Grid) TrackingReport {
	var rep TrackingReport

	rep.CFO.Updated = s.update(seq, "CFO", s.CFO.Update(g))
	if rep.CFO.Updated {
		rep.CFO.Corrected = s.CFO.Correct(g)
	}
	rep.CFO.Estimate, rep.CFO.Filtered, rep.CFO.PilotsUsed = s.CFO.Estimate, s.CFO.Filtered, s.CFO.PilotsUsed

	rep.CPE.Updated = s.update(seq, "CPE", s.CPE.Update(g))
	if rep.CPE.Updated {
		rep.CPE.Corrected = s.CPE.Correct(g)
	}
	rep.CPE.Estimate, rep.CPE.Filtered, rep.CPE.PilotsUsed = s.CPE.Estimate, s.CPE.Filtered, s.CPE.PilotsUsed

	// SCO stores the pilots it sees. CPE leaves pilots alone, so those are
	// the post-CFO pilots.
	seeding := !s.SCO.HasReference()
	rep.SCO.Updated = s.update(seq, "SCO", s.SCO.Update(g)) && !seeding
	if seeding {
		log.Printf("[DEBUG] seq=%d SCO reference seeded", seq)
	}
	if rep.SCO.Updated {
		rep.SCO.Corrected = s.SCO.Correct(g)
	}
	rep.SCO.Estimate, rep.SCO.Filtered, rep.SCO.PilotsUsed = s.SCO.Estimate, s.SCO.Filtered, s.SCO.PilotsUsed
	rep.SCO.Accumulated = s.SCO.Accumulated

	log.Printf("[DEBUG] seq=%d CFO %.5f/%.5f rad, CPE %.5f/%.5f rad, SCO %.5f acc %.5f",
		seq, rep.CFO.Estimate, rep.CFO.Filtered, rep.CPE.Estimate, rep.CPE.Filtered,
		rep.SCO.Filtered, rep.SCO.Accumulated)
	return rep
}

func (s *Session) update(seq int, name string, err error) bool {
	if err != nil {
		log.Printf("[WARN] seq=%d %s estimate skipped: %v", seq, name, err)
		return false
	}
	return true
}
