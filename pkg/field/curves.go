package field

// P192 tags the field of NIST P-192, p = 2^192 - 2^64 - 1.
type P192 struct{}

// P256 tags the field of NIST P-256, p = 2^256 - 2^224 + 2^192 + 2^96 - 1.
type P256 struct{}

var (
	prime192 = [MaxWords]uint32{
		0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFE, 0xFFFFFFFF,
		0xFFFFFFFF, 0xFFFFFFFF,
	}
	prime256 = [MaxWords]uint32{
		0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF, 0x00000000,
		0x00000000, 0x00000000, 0x00000001, 0xFFFFFFFF,
	}
)

// Words returns 6.
func (P192) Words() int { return 6 }

// Name returns "P-192".
func (P192) Name() string { return "P-192" }

func (P192) prime() *[MaxWords]uint32 { return &prime192 }

func (P192) reduce(c *[MaxWords]uint32, a *[2 * MaxWords]uint32) {
	fastMod192(c, a)
}

// Words returns 8.
func (P256) Words() int { return 8 }

// Name returns "P-256".
func (P256) Name() string { return "P-256" }

func (P256) prime() *[MaxWords]uint32 { return &prime256 }

func (P256) reduce(c *[MaxWords]uint32, a *[2 * MaxWords]uint32) {
	fastMod256(c, a)
}

// FastMod192 reduces a 384-bit value modulo the P-192 prime.
func FastMod192(c *Int[P192], a *Wide[P192]) {
	fastMod192((*[MaxWords]uint32)(c), (*[2 * MaxWords]uint32)(a))
}

// FastMod256 reduces a 512-bit value modulo the P-256 prime.
func FastMod256(c *Int[P256], a *Wide[P256]) {
	fastMod256((*[MaxWords]uint32)(c), (*[2 * MaxWords]uint32)(a))
}

// fastMod192 computes T + S1 + S2 + S3 over the 64-bit blocks a5..a0 of the
// input:
//
//	T  = (a2, a1, a0)
//	S1 = ( 0, a3, a3)
//	S2 = (a4, a4,  0)
//	S3 = (a5, a5, a5)
func fastMod192(c *[MaxWords]uint32, a *[2 * MaxWords]uint32) {
	var col [6]int64
	for i := 0; i < 6; i++ {
		col[i] = int64(a[i])
	}

	// S1
	col[0] += int64(a[6])
	col[1] += int64(a[7])
	col[2] += int64(a[6])
	col[3] += int64(a[7])

	// S2
	col[2] += int64(a[8])
	col[3] += int64(a[9])
	col[4] += int64(a[8])
	col[5] += int64(a[9])

	// S3
	for i := 0; i < 6; i += 2 {
		col[i] += int64(a[10])
		col[i+1] += int64(a[11])
	}

	carry := propagate(c[:6], col[:])
	for i := 6; i < MaxWords; i++ {
		c[i] = 0
	}
	normalize(c[:6], carry, prime192[:6])
}

// fastMod256 computes T + 2S1 + 2S2 + S3 + S4 - D1 - D2 - D3 - D4 over the
// 32-bit words c15..c0 of the input:
//
//	T  = (c7,  c6,  c5,  c4,  c3,  c2,  c1,  c0)
//	S1 = (c15, c14, c13, c12, c11, 0,   0,   0)
//	S2 = (0,   c15, c14, c13, c12, 0,   0,   0)
//	S3 = (c15, c14, 0,   0,   0,   c10, c9,  c8)
//	S4 = (c8,  c13, c15, c14, c13, c11, c10, c9)
//	D1 = (c10, c8,  0,   0,   0,   c13, c12, c11)
//	D2 = (c11, c9,  0,   0,   c15, c14, c13, c12)
//	D3 = (c12, 0,   c10, c9,  c8,  c15, c14, c13)
//	D4 = (c13, 0,   c11, c10, c9,  0,   c15, c14)
func fastMod256(c *[MaxWords]uint32, a *[2 * MaxWords]uint32) {
	w := func(i int) int64 { return int64(a[i]) }

	var col [8]int64
	col[0] = w(0) + w(8) + w(9) - w(11) - w(12) - w(13) - w(14)
	col[1] = w(1) + w(9) + w(10) - w(12) - w(13) - w(14) - w(15)
	col[2] = w(2) + w(10) + w(11) - w(13) - w(14) - w(15)
	col[3] = w(3) + 2*w(11) + 2*w(12) + w(13) - w(15) - w(8) - w(9)
	col[4] = w(4) + 2*w(12) + 2*w(13) + w(14) - w(9) - w(10)
	col[5] = w(5) + 2*w(13) + 2*w(14) + w(15) - w(10) - w(11)
	col[6] = w(6) + 2*w(14) + 2*w(15) + w(14) + w(13) - w(8) - w(9)
	col[7] = w(7) + 2*w(15) + w(15) + w(8) - w(10) - w(11) - w(12) - w(13)

	carry := propagate(c[:8], col[:])
	normalize(c[:8], carry, prime256[:8])
}

// propagate folds signed column sums into 32-bit words and returns the
// signed carry out of the top word.
func propagate(r []uint32, col []int64) int64 {
	var carry int64
	for i := range r {
		acc := col[i] + carry
		r[i] = uint32(acc)
		carry = acc >> 32
	}
	return carry
}
