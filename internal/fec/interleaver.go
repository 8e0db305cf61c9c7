package fec

import (
	"errors"
	"fmt"
)

// ErrSizeMismatch is returned when the input length does not fill the matrix.
var ErrSizeMismatch = errors.New("interleaver size mismatch")

// BlockInterleaver permutes bits through a Rows x Cols matrix.
type BlockInterleaver struct {
	Rows int
	Cols int
}

// NewBlockInterleaver creates an interleaver for the given matrix shape.
func NewBlockInterleaver(rows, cols int) *BlockInterleaver {
	return &BlockInterleaver{Rows: rows, Cols: cols}
}

// Size returns the number of bits the interleaver operates on.
func (il *BlockInterleaver) Size() int {
	return il.Rows * il.Cols
}

// Interleave writes row-major and reads column-major.
func (il *BlockInterleaver) Interleave(in []byte) ([]byte, error) {
	if len(in) != il.Size() {
		return nil, fmt.Errorf("%w: got %d bits, want %dx%d", ErrSizeMismatch, len(in), il.Rows, il.Cols)
	}

	out := make([]byte, len(in))
	k := 0
	for c := 0; c < il.Cols; c++ {
		for r := 0; r < il.Rows; r++ {
			out[k] = in[r*il.Cols+c]
			k++
		}
	}
	return out, nil
}

// Deinterleave inverts Interleave.
func (il *BlockInterleaver) Deinterleave(in []byte) ([]byte, error) {
	if len(in) != il.Size() {
		return nil, fmt.Errorf("%w: got %d bits, want %dx%d", ErrSizeMismatch, len(in), il.Rows, il.Cols)
	}

	out := make([]byte, len(in))
	k := 0
	for c := 0; c < il.Cols; c++ {
		for r := 0; r < il.Rows; r++ {
			out[r*il.Cols+c] = in[k]
			k++
		}
	}
	return out, nil
}
