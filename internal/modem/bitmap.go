package modem

// Bit labels for each spiral point, indexed by point number. Labels are
// read MSB-first, so label 3 at bps=4 is the tuple 0011. Each table is a
// permutation of 0 .. 2^bps-1 chosen so that neighbouring turns of the
// spiral differ in few bits.
var bitMappings = map[int][]int{
	2: {0, 3, 2, 1},
	3: {0, 6, 5, 3, 7, 1, 2, 4},
	4: {0, 1, 3, 2, 6, 7, 5, 4, 12, 13, 15, 14, 10, 11, 9, 8},
	5: {
		0, 7, 11, 12, 19, 20, 24, 31, 3, 4, 8, 15, 16, 23, 27, 28,
		1, 6, 10, 13, 18, 21, 25, 30, 2, 5, 9, 14, 17, 22, 26, 29,
	},
	6: {
		0, 48, 40, 24, 60, 12, 20, 36, 54, 6, 30, 46, 58, 10, 18, 34,
		51, 3, 27, 43, 63, 15, 23, 39, 53, 5, 29, 45, 57, 9, 17, 33,
		56, 8, 16, 32, 52, 4, 28, 44, 62, 14, 22, 38, 50, 2, 26, 42,
		59, 11, 19, 35, 55, 7, 31, 47, 61, 13, 21, 37, 49, 1, 25, 41,
	},
}
