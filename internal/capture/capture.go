package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/jeongseonghan/gam-linksim/internal/link"
)

// magic opens every capture stream.
var magic = [4]byte{'G', 'L', 'C', '1'}

// ErrBadMagic is returned when a stream is not a capture.
var ErrBadMagic = errors.New("not a capture stream")

// Record is one received frame.
type Record struct {
	Seq        uint32
	Attempt    uint16
	CRCValid   bool
	FrameStart int32
	Samples    []complex64
}

type header struct {
	Seq        uint32
	Attempt    uint16
	CRCValid   uint8
	_          uint8
	FrameStart int32
	Count      uint32
}

// Writer appends zstd-compressed records to an underlying stream.
// It implements link.Observer; write errors are kept and reported by Close.
type Writer struct {
	mu      sync.Mutex
	enc     *zstd.Encoder
	closer  io.Closer
	err     error
	records int
}

// NewWriter starts a capture stream on w.
func NewWriter(w io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	if _, err := enc.Write(magic[:]); err != nil {
		enc.Close()
		return nil, fmt.Errorf("write magic: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Create opens path for writing and starts a capture stream in it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write appends one record.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	h := header{
		Seq:        rec.Seq,
		Attempt:    rec.Attempt,
		FrameStart: rec.FrameStart,
		Count:      uint32(len(rec.Samples)),
	}
	if rec.CRCValid {
		h.CRCValid = 1
	}
	if err := binary.Write(w.enc, binary.LittleEndian, h); err != nil {
		w.err = fmt.Errorf("write record header: %w", err)
		return w.err
	}
	if len(rec.Samples) > 0 {
		if err := binary.Write(w.enc, binary.LittleEndian, rec.Samples); err != nil {
			w.err = fmt.Errorf("write record samples: %w", err)
			return w.err
		}
	}
	w.records++
	return nil
}

// Observe captures the channel output behind a link result.
func (w *Writer) Observe(r link.Result) {
	samples := make([]complex64, len(r.Received))
	for i, s := range r.Received {
		samples[i] = complex64(s)
	}
	// The error is sticky and surfaces from Close.
	_ = w.Write(Record{
		Seq:        uint32(r.Seq),
		Attempt:    uint16(r.Attempt),
		CRCValid:   r.CRCValid,
		FrameStart: int32(r.FrameStart),
		Samples:    samples,
	})
}

// Records returns the number of records written so far.
func (w *Writer) Records() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Close flushes the encoder and closes the file opened by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.enc.Close()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	if w.err != nil {
		return w.err
	}
	return err
}

// Reader decodes a capture stream.
type Reader struct {
	dec    *zstd.Decoder
	r      *bufio.Reader
	closer io.Closer
}

// NewReader validates the stream header.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	br := bufio.NewReader(dec)

	var m [4]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		dec.Close()
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if m != magic {
		dec.Close()
		return nil, ErrBadMagic
	}
	return &Reader{dec: dec, r: br}, nil
}

// Open opens a capture file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var h header
	if err := binary.Read(r.r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record header: %w", err)
	}

	rec := Record{
		Seq:        h.Seq,
		Attempt:    h.Attempt,
		CRCValid:   h.CRCValid == 1,
		FrameStart: h.FrameStart,
		Samples:    make([]complex64, h.Count),
	}
	if h.Count == 0 {
		return rec, nil
	}
	if err := binary.Read(r.r, binary.LittleEndian, rec.Samples); err != nil {
		return Record{}, fmt.Errorf("read record samples: %w", err)
	}
	return rec, nil
}

// ReadAll drains the stream.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close releases the decoder and the file opened by Open.
func (r *Reader) Close() error {
	r.dec.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
