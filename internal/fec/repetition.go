package fec

// Repeat emits each bit factor times consecutively, so bit i lands at
// positions i*factor .. i*factor+factor-1.
func Repeat(bits []byte, factor int) []byte {
	out := make([]byte, 0, len(bits)*factor)
	for _, b := range bits {
		for j := 0; j < factor; j++ {
			out = append(out, b&1)
		}
	}
	return out
}

// MajorityDecode collapses each group of factor copies into one bit.
// A bit decodes to 1 only when ones > factor/2; ties go to 0.
// Trailing bits that do not fill a group are ignored.
func MajorityDecode(bits []byte, factor int) []byte {
	if factor < 1 {
		return nil
	}
	n := len(bits) / factor
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		ones := 0
		for _, b := range bits[i*factor : (i+1)*factor] {
			ones += int(b & 1)
		}
		if ones > factor/2 {
			out[i] = 1
		}
	}
	return out
}
