package link

import (
	"context"
	"log"
	"sync"

	"golang.org/x/exp/rand"
)

// Observer receives every transmission result as it completes.
type Observer interface {
	Observe(Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result)

// Observe calls f(r).
func (f ObserverFunc) Observe(r Result) {
	f(r)
}

// DriverState represents the batch state.
type DriverState int

const (
	StateIdle DriverState = iota
	StateRunning
	StateCompleted
	StateCancelled
)

// String returns the state name.
func (s DriverState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Driver runs a batch of random transport blocks over a Link with optional
// whole-transmission retries, fanning results out to observers.
type Driver struct {
	link       *Link
	rng        *rand.Rand
	maxRetries int
	stats      *Stats

	mu        sync.Mutex
	state     DriverState
	observers []Observer
}

// NewDriver creates a driver. Payload bits are drawn from a PRNG seeded
// with seed, separate from the channel's.
func NewDriver(l *Link, seed uint64, observers ...Observer) *Driver {
	return &Driver{
		link:       l,
		rng:        rand.New(rand.NewSource(seed)),
		maxRetries: l.cfg.Simulation.MaxRetries,
		stats:      NewStats(l.cfg.TransportBlock.PayloadBits),
		observers:  observers,
	}
}

// AddObserver registers another observer.
func (d *Driver) AddObserver(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Stats returns the live aggregate.
func (d *Driver) Stats() *Stats {
	return d.stats
}

// State returns the batch state.
func (d *Driver) State() DriverState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run sends runs blocks. Context cancellation is checked between
// transmissions, never inside one.
func (d *Driver) Run(ctx context.Context, runs int) (Summary, error) {
	d.setState(StateRunning)
	bits := d.link.cfg.TransportBlock.PayloadBits

	for run := 0; run < runs; run++ {
		payload := d.randomPayload(bits)

		for attempt := 0; attempt <= d.maxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				d.setState(StateCancelled)
				return d.stats.Summary(), err
			}
			if attempt > 0 {
				log.Printf("[INFO] Retry %d/%d for block %d", attempt, d.maxRetries, run)
			}

			// Structural errors are already logged and carried in res.Err.
			res, _ := d.link.RunOnce(payload)
			res.Attempt = attempt
			d.stats.Add(res)
			d.notify(res)

			log.Printf("[INFO] seq=%d crc=%s ber=%.4f preamble=%s score=%.3f elapsed=%s",
				res.Seq, verdict(res.CRCValid, "valid", "invalid"), res.BER,
				verdict(res.PreambleDetected, "detected", "fallback"), res.DetectionScore, res.Elapsed)

			if res.CRCValid {
				d.stats.MarkDelivered()
				break
			}
		}
	}

	d.setState(StateCompleted)
	return d.stats.Summary(), nil
}

func (d *Driver) randomPayload(n int) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(d.rng.Intn(2))
	}
	return payload
}

func (d *Driver) notify(r Result) {
	d.mu.Lock()
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	for _, o := range observers {
		o.Observe(r)
	}
}

func (d *Driver) setState(s DriverState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func verdict(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
