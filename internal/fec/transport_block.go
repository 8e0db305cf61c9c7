package fec

import (
	"errors"
	"fmt"

	"github.com/jeongseonghan/gam-linksim/internal/config"
)

var (
	// ErrPayloadLength is returned when Build receives the wrong number of bits.
	ErrPayloadLength = errors.New("payload length mismatch")
	// ErrCRCMismatch is returned alongside a decoded block whose CRC fails.
	ErrCRCMismatch = errors.New("crc mismatch")
)

// TransportBlock is one unit of payload with its checksum and coded form.
// All bit slices hold one bit (0 or 1) per byte.
type TransportBlock struct {
	Payload     []byte
	CRC         []byte
	Total       []byte // payload ++ CRC
	Interleaved []byte // repeated then interleaved
	CRCValid    bool
}

// Codec builds and decodes transport blocks for a fixed configuration.
type Codec struct {
	payloadBits int
	factor      int
	il          *BlockInterleaver
}

// NewCodec creates a codec from the transport block settings.
func NewCodec(cfg config.TransportBlock) (*Codec, error) {
	if cfg.InterleaverRows*cfg.InterleaverCols != cfg.CodedBits() {
		return nil, fmt.Errorf("%w: %d coded bits in %dx%d interleaver",
			ErrSizeMismatch, cfg.CodedBits(), cfg.InterleaverRows, cfg.InterleaverCols)
	}
	return &Codec{
		payloadBits: cfg.PayloadBits,
		factor:      cfg.RepetitionFactor,
		il:          NewBlockInterleaver(cfg.InterleaverRows, cfg.InterleaverCols),
	}, nil
}

// PayloadBits returns the configured payload length.
func (c *Codec) PayloadBits() int {
	return c.payloadBits
}

// CodedBits returns the length of the interleaved output.
func (c *Codec) CodedBits() int {
	return c.il.Size()
}

// Build runs payload -> CRC -> repetition -> interleaving.
func (c *Codec) Build(payload []byte) (*TransportBlock, error) {
	if len(payload) != c.payloadBits {
		return nil, fmt.Errorf("%w: got %d bits, want %d", ErrPayloadLength, len(payload), c.payloadBits)
	}

	tb := &TransportBlock{
		Payload: append([]byte(nil), payload...),
		CRC:     CRC24A(payload),
	}
	tb.Total = make([]byte, 0, c.payloadBits+CRC24ALen)
	tb.Total = append(tb.Total, tb.Payload...)
	tb.Total = append(tb.Total, tb.CRC...)

	interleaved, err := c.il.Interleave(Repeat(tb.Total, c.factor))
	if err != nil {
		return nil, fmt.Errorf("interleave: %w", err)
	}
	tb.Interleaved = interleaved
	tb.CRCValid = true
	return tb, nil
}

// Process runs deinterleaving -> majority decode -> CRC check.
// A block that fails the CRC is still returned, together with ErrCRCMismatch.
func (c *Codec) Process(interleaved []byte) (*TransportBlock, error) {
	repeated, err := c.il.Deinterleave(interleaved)
	if err != nil {
		return nil, fmt.Errorf("deinterleave: %w", err)
	}

	total := MajorityDecode(repeated, c.factor)
	tb := &TransportBlock{
		Payload:     total[:c.payloadBits],
		CRC:         total[c.payloadBits:],
		Total:       total,
		Interleaved: append([]byte(nil), interleaved...),
		CRCValid:    VerifyCRC24A(total),
	}
	if !tb.CRCValid {
		return tb, ErrCRCMismatch
	}
	return tb, nil
}
