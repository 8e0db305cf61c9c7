package link

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jeongseonghan/gam-linksim/internal/channel"
	"github.com/jeongseonghan/gam-linksim/internal/config"
	"github.com/jeongseonghan/gam-linksim/internal/fec"
	"github.com/jeongseonghan/gam-linksim/internal/modem"
)

// Transmission is everything the transmitter produced for one block.
type Transmission struct {
	Seq     int
	Block   *fec.TransportBlock
	Symbols []complex128
	Grid    *modem.Grid
	Frame   []complex128
}

// Result is the per-transmission outcome.
type Result struct {
	Seq              int            `json:"seq"`
	Attempt          int            `json:"attempt"`
	CRCValid         bool           `json:"crc_valid"`
	BitErrors        int            `json:"bit_errors"`
	BER              float64        `json:"ber"`
	OraclePass       bool           `json:"oracle_pass"`
	PreambleDetected bool           `json:"preamble_detected"`
	DetectionScore   float64        `json:"detection_score"`
	FrameStart       int            `json:"frame_start"`
	Burst            bool           `json:"burst"`
	Tracking         TrackingReport `json:"tracking"`
	Elapsed          time.Duration  `json:"elapsed_ns"`
	Err              string         `json:"error,omitempty"`

	// Received is the channel output the receiver worked on.
	Received []complex128 `json:"-"`
}

// Failed reports whether the transmission aborted on a structural error.
func (r Result) Failed() bool {
	return r.Err != ""
}

// Link is one transmitter/receiver pair joined by a synthetic channel.
// It is not safe for concurrent use.
type Link struct {
	cfg           *config.Config
	constellation *modem.Constellation
	codec         *fec.Codec
	ofdm          *modem.OFDM
	framer        *modem.Framer
	channel       *channel.Channel
	session       *Session
	seq           int
}

// Option customizes a Link.
type Option func(*Link)

// WithChannel replaces the default channel.
func WithChannel(ch *channel.Channel) Option {
	return func(l *Link) {
		l.channel = ch
	}
}

// WithSession replaces the default tracker session.
func WithSession(s *Session) Option {
	return func(l *Link) {
		l.session = s
	}
}

// New builds every pipeline stage from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := modem.NewConstellation(cfg.Modulation.BitsPerSymbol)
	if err != nil {
		return nil, fmt.Errorf("constellation: %w", err)
	}
	codec, err := fec.NewCodec(cfg.TransportBlock)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	o, err := modem.NewOFDM(cfg.OFDM, cfg.Grid.Subcarriers)
	if err != nil {
		return nil, fmt.Errorf("ofdm: %w", err)
	}

	l := &Link{
		cfg:           cfg,
		constellation: c,
		codec:         codec,
		ofdm:          o,
		framer:        modem.NewFramer(cfg.Frame, cfg.Grid.Symbols, cfg.OFDM.SymbolLen()),
		channel:       channel.New(cfg.Channel, uint64(cfg.Simulation.Seed)),
		session:       NewSession(cfg.Sync),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the link configuration.
func (l *Link) Config() *config.Config {
	return l.cfg
}

// Channel returns the link's channel.
func (l *Link) Channel() *channel.Channel {
	return l.channel
}

// Session returns the tracker session.
func (l *Link) Session() *Session {
	return l.session
}

// Transmit runs payload -> transport block -> symbols -> grid -> OFDM -> frame.
func (l *Link) Transmit(payload []byte) (*Transmission, error) {
	tb, err := l.codec.Build(payload)
	if err != nil {
		return nil, fmt.Errorf("build transport block: %w", err)
	}

	symbols, err := l.constellation.Modulate(tb.Interleaved)
	if err != nil {
		return nil, fmt.Errorf("modulate: %w", err)
	}

	g := modem.NewGrid(l.cfg.Grid)
	if err := g.MapData(symbols); err != nil {
		return nil, fmt.Errorf("map grid: %w", err)
	}

	cp := l.ofdm.AddCyclicPrefix(l.ofdm.GridToTimeDomain(g))
	frame, err := l.framer.BuildFrame(cp)
	if err != nil {
		return nil, fmt.Errorf("build frame: %w", err)
	}

	tx := &Transmission{
		Seq:     l.seq,
		Block:   tb,
		Symbols: symbols,
		Grid:    g,
		Frame:   frame,
	}
	l.seq++
	return tx, nil
}

// Receive recovers the block from received samples and scores it against tx.
// Structural failures return an error and a Result with Err set; a CRC
// failure is a normal outcome and returns no error.
func (l *Link) Receive(tx *Transmission, samples []complex128) (Result, error) {
	res := Result{Seq: tx.Seq, Received: samples, FrameStart: -1}

	det, err := l.framer.DetectFrameStart(samples)
	switch {
	case errors.Is(err, modem.ErrPreambleNotDetected):
		log.Printf("[WARN] seq=%d %v, falling back to offset %d", tx.Seq, err, det.Start)
	case err != nil:
		return l.abort(res, fmt.Errorf("detect preamble: %w", err))
	}
	res.PreambleDetected = det.Detected
	res.DetectionScore = det.Score
	res.FrameStart = det.Start

	cpSymbols, err := l.framer.ExtractPayload(samples, det.Start)
	if err != nil {
		return l.abort(res, fmt.Errorf("extract payload: %w", err))
	}
	td, err := l.ofdm.RemoveCyclicPrefix(cpSymbols)
	if err != nil {
		return l.abort(res, fmt.Errorf("remove cyclic prefix: %w", err))
	}

	g := modem.NewGrid(l.cfg.Grid)
	if err := l.ofdm.TimeDomainToGrid(td, g); err != nil {
		return l.abort(res, fmt.Errorf("demultiplex grid: %w", err))
	}

	res.Tracking = l.session.Track(tx.Seq, g)

	symbols, err := g.ExtractData(len(tx.Symbols))
	if err != nil {
		return l.abort(res, fmt.Errorf("extract data: %w", err))
	}
	bits := l.constellation.Demodulate(symbols)

	rx, err := l.codec.Process(bits)
	if err != nil && !errors.Is(err, fec.ErrCRCMismatch) {
		return l.abort(res, fmt.Errorf("process transport block: %w", err))
	}

	res.CRCValid = rx.CRCValid
	res.BitErrors = countErrors(tx.Block.Payload, rx.Payload)
	res.BER = float64(res.BitErrors) / float64(len(tx.Block.Payload))
	// Diagnostic only. Never feeds CRCValid.
	res.OraclePass = res.BER < l.cfg.Simulation.OracleBERThreshold
	return res, nil
}

// RunOnce transmits payload through the channel and receives it, timing the
// whole chain.
func (l *Link) RunOnce(payload []byte) (Result, error) {
	start := time.Now()

	tx, err := l.Transmit(payload)
	if err != nil {
		res := Result{Seq: l.seq, FrameStart: -1, Elapsed: time.Since(start)}
		return l.abort(res, err)
	}

	samples, err := l.channel.Apply(tx.Frame)
	if err != nil {
		res := Result{Seq: tx.Seq, FrameStart: -1, Elapsed: time.Since(start)}
		return l.abort(res, fmt.Errorf("channel: %w", err))
	}
	if imp := l.channel.Last(); imp.Burst {
		log.Printf("[DEBUG] seq=%d burst at %d..%d", tx.Seq, imp.BurstStart, imp.BurstStart+imp.BurstLen)
	}

	res, err := l.Receive(tx, samples)
	res.Burst = l.channel.Last().Burst
	res.Elapsed = time.Since(start)
	return res, err
}

func (l *Link) abort(res Result, err error) (Result, error) {
	res.CRCValid = false
	res.Err = err.Error()
	log.Printf("[ERROR] seq=%d transmission aborted: %v", res.Seq, err)
	return res, err
}

func countErrors(a, b []byte) int {
	errs := 0
	for i := range a {
		if i >= len(b) || a[i] != b[i] {
			errs++
		}
	}
	return errs
}
