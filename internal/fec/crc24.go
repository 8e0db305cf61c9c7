package fec

// CRC24APoly is the CRC-24A generator polynomial including the x^24 term.
const CRC24APoly = 0x1864CFB

// CRC24ALen is the checksum length in bits.
const CRC24ALen = 24

const (
	crc24Init = 0xFFFFFF
	crc24Mask = 0xFFFFFF
	crc24Top  = 0x800000
)

// crc24Register runs the bit-serial shift register over bits (one bit per byte).
func crc24Register(bits []byte) uint32 {
	reg := uint32(crc24Init)
	for _, b := range bits {
		reg ^= uint32(b&1) << 23
		if reg&crc24Top != 0 {
			reg = (reg << 1) ^ CRC24APoly
		} else {
			reg <<= 1
		}
		reg &= crc24Mask
	}
	return reg
}

// CRC24A computes the 24-bit checksum of a bit slice.
// The result is returned MSB-first, one bit per byte.
func CRC24A(bits []byte) []byte {
	reg := crc24Register(bits)
	crc := make([]byte, CRC24ALen)
	for i := 0; i < CRC24ALen; i++ {
		crc[i] = byte((reg >> (CRC24ALen - 1 - i)) & 1)
	}
	return crc
}

// AppendCRC24A returns bits followed by their CRC-24A.
func AppendCRC24A(bits []byte) []byte {
	out := make([]byte, 0, len(bits)+CRC24ALen)
	out = append(out, bits...)
	return append(out, CRC24A(bits)...)
}

// VerifyCRC24A runs the register over payload ++ CRC.
// A valid block leaves the register at zero.
func VerifyCRC24A(bitsWithCRC []byte) bool {
	if len(bitsWithCRC) < CRC24ALen {
		return false
	}
	return crc24Register(bitsWithCRC) == 0
}
