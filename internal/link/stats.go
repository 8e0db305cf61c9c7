package link

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Summary is a point-in-time view of batch statistics.
type Summary struct {
	Transmissions      int           `json:"transmissions"`
	Successes          int           `json:"successes"`
	Aborted            int           `json:"aborted"`
	Blocks             int           `json:"blocks"`
	Delivered          int           `json:"delivered"`
	Retries            int           `json:"retries"`
	PreambleDetections int           `json:"preamble_detections"`
	OraclePasses       int           `json:"oracle_passes"`
	Bursts             int           `json:"bursts"`
	BLER               float64       `json:"bler"`
	MeanBER            float64       `json:"mean_ber"`
	StdBER             float64       `json:"std_ber"`
	ThroughputKbps     float64       `json:"throughput_kbps"`
	EfficiencyPct      float64       `json:"efficiency_pct"`
	ProcessingTime     time.Duration `json:"processing_time_ns"`
	SuccessfulBits     int           `json:"successful_bits"`
}

// Stats aggregates results. Safe for concurrent use.
type Stats struct {
	payloadBits int

	mu      sync.Mutex
	sum     Summary
	bers    []float64
	elapsed time.Duration
}

// NewStats creates an empty aggregate for blocks of payloadBits.
func NewStats(payloadBits int) *Stats {
	return &Stats{payloadBits: payloadBits}
}

// Add folds one transmission into the aggregate. Success is decided by the
// CRC alone.
func (s *Stats) Add(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sum.Transmissions++
	s.elapsed += r.Elapsed
	if r.Attempt > 0 {
		s.sum.Retries++
	} else {
		s.sum.Blocks++
	}
	if r.Burst {
		s.sum.Bursts++
	}
	if r.Failed() {
		s.sum.Aborted++
		return
	}

	s.bers = append(s.bers, r.BER)
	if r.CRCValid {
		s.sum.Successes++
		s.sum.SuccessfulBits += s.payloadBits
	}
	if r.PreambleDetected {
		s.sum.PreambleDetections++
	}
	if r.OraclePass {
		s.sum.OraclePasses++
	}
}

// MarkDelivered records a block that eventually passed its CRC.
func (s *Stats) MarkDelivered() {
	s.mu.Lock()
	s.sum.Delivered++
	s.mu.Unlock()
}

// Summary computes the derived figures.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.sum
	out.ProcessingTime = s.elapsed
	if out.Transmissions > 0 {
		out.BLER = float64(out.Transmissions-out.Successes) / float64(out.Transmissions)
		out.EfficiencyPct = 100 * float64(out.SuccessfulBits) / float64(out.Transmissions*s.payloadBits)
	}
	switch len(s.bers) {
	case 0:
	case 1:
		out.MeanBER = s.bers[0]
	default:
		out.MeanBER, out.StdBER = stat.MeanStdDev(s.bers, nil)
	}
	if secs := s.elapsed.Seconds(); secs > 0 {
		out.ThroughputKbps = float64(out.SuccessfulBits) / secs / 1e3
	}
	return out
}

// Reset clears all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum = Summary{}
	s.bers = nil
	s.elapsed = 0
}
