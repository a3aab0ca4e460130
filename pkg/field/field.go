package field

import (
	"encoding/hex"
	"fmt"
	"math/bits"
)

// MaxWords is the word length of the largest supported field.
const MaxWords = 8

// Curve tags a field with its word length, prime and fast reduction.
// Only the tags declared in this package implement it.
type Curve interface {
	// Words returns the active word count (6 or 8).
	Words() int

	// Name returns the curve name.
	Name() string

	prime() *[MaxWords]uint32
	reduce(c *[MaxWords]uint32, a *[2 * MaxWords]uint32)
}

// Int is an integer modulo the prime of curve C.
type Int[C Curve] [MaxWords]uint32

// Wide holds a double-width product before reduction.
type Wide[C Curve] [2 * MaxWords]uint32

func words[C Curve]() int {
	var c C
	return c.Words()
}

// Prime returns the field prime of C.
func Prime[C Curve]() Int[C] {
	var c C
	return Int[C](*c.prime())
}

// One returns the integer 1.
func One[C Curve]() Int[C] {
	var r Int[C]
	r[0] = 1
	return r
}

// SetUint32 sets c to v.
func SetUint32[C Curve](c *Int[C], v uint32) {
	*c = Int[C]{}
	c[0] = v
}

// SetBytes sets c from a big-endian byte string of exactly 4*Words bytes.
func SetBytes[C Curve](c *Int[C], b []byte) error {
	n := words[C]()
	if len(b) != 4*n {
		return fmt.Errorf("field: want %d bytes, got %d", 4*n, len(b))
	}
	*c = Int[C]{}
	for i := 0; i < n; i++ {
		off := len(b) - 4*(i+1)
		c[i] = uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
	}
	return nil
}

// Bytes returns the big-endian encoding of a, 4*Words bytes long.
func Bytes[C Curve](a *Int[C]) []byte {
	n := words[C]()
	out := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		off := len(out) - 4*(i+1)
		out[off] = byte(a[i] >> 24)
		out[off+1] = byte(a[i] >> 16)
		out[off+2] = byte(a[i] >> 8)
		out[off+3] = byte(a[i])
	}
	return out
}

// MustHex parses a big-endian hex string into an Int. It panics on malformed
// input and is meant for constants.
func MustHex[C Curve](s string) Int[C] {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("field: bad hex constant %q: %v", s, err))
	}
	var r Int[C]
	if err := SetBytes(&r, b); err != nil {
		panic(err)
	}
	return r
}

// String returns the big-endian hex form.
func (a Int[C]) String() string {
	return hex.EncodeToString(Bytes(&a))
}

// Compare returns -1, 0 or 1 comparing a and b as unsigned integers.
func Compare[C Curve](a, b *Int[C]) int {
	return compareWords(a[:words[C]()], b[:words[C]()])
}

// IsZero reports whether a is zero.
func IsZero[C Curve](a *Int[C]) bool {
	for _, w := range a[:words[C]()] {
		if w != 0 {
			return false
		}
	}
	return true
}

// IsOdd reports whether the lowest bit of a is set.
func IsOdd[C Curve](a *Int[C]) bool {
	return a[0]&1 == 1
}

// Add sets c = a + b and returns the carry out.
func Add[C Curve](c, a, b *Int[C]) uint32 {
	n := words[C]()
	return addWords(c[:n], a[:n], b[:n])
}

// Sub sets c = a - b and returns the borrow out.
func Sub[C Curve](c, a, b *Int[C]) uint32 {
	n := words[C]()
	return subWords(c[:n], a[:n], b[:n])
}

// AddMod sets c = a + b mod p. Both operands must be below p.
func AddMod[C Curve](c, a, b *Int[C]) {
	p := Prime[C]()
	if Add(c, a, b) != 0 || Compare(c, &p) >= 0 {
		Sub(c, c, &p)
	}
}

// SubMod sets c = a - b mod p. Both operands must be below p.
func SubMod[C Curve](c, a, b *Int[C]) {
	p := Prime[C]()
	if Sub(c, a, b) != 0 {
		Add(c, c, &p)
	}
}

// Lshift sets c = a << 1 and returns the bit shifted out.
func Lshift[C Curve](c, a *Int[C]) uint32 {
	n := words[C]()
	var carry uint32
	for i := 0; i < n; i++ {
		w := a[i]
		c[i] = w<<1 | carry
		carry = w >> 31
	}
	return carry
}

// Rshift sets c = a >> 1 and returns the bit shifted out.
func Rshift[C Curve](c, a *Int[C]) uint32 {
	n := words[C]()
	out := a[0] & 1
	var carry uint32
	for i := n - 1; i >= 0; i-- {
		w := a[i]
		c[i] = w>>1 | carry
		carry = w << 31
	}
	return out
}

// LshiftMod sets c = 2a mod p.
func LshiftMod[C Curve](c, a *Int[C]) {
	p := Prime[C]()
	if Lshift(c, a) != 0 || Compare(c, &p) >= 0 {
		Sub(c, c, &p)
	}
}

// Mult sets c to the full 2*Words product of a and b.
func Mult[C Curve](c *Wide[C], a, b *Int[C]) {
	n := words[C]()
	*c = Wide[C]{}
	for i := 0; i < n; i++ {
		var carry uint64
		for j := 0; j < n; j++ {
			t := uint64(a[i])*uint64(b[j]) + uint64(c[i+j]) + carry
			c[i+j] = uint32(t)
			carry = t >> 32
		}
		c[i+n] = uint32(carry)
	}
}

// FastMod reduces the double-width value a modulo p into c.
func FastMod[C Curve](c *Int[C], a *Wide[C]) {
	var cv C
	cv.reduce((*[MaxWords]uint32)(c), (*[2 * MaxWords]uint32)(a))
}

// MersenneMultMod sets c = a*b mod p.
func MersenneMultMod[C Curve](c, a, b *Int[C]) {
	var w Wide[C]
	Mult(&w, a, b)
	FastMod(c, &w)
}

// MersenneSquaMod sets c = a*a mod p.
func MersenneSquaMod[C Curve](c, a *Int[C]) {
	MersenneMultMod(c, a, a)
}

// InvMod sets out = a^-1 mod p for a nonzero a below p.
//
// Invariants: A*a = u and C*a = v (mod p). Halving an odd running total adds
// p first; the carry out of that addition is folded back into the top bit.
func InvMod[C Curve](out, a *Int[C]) {
	n := words[C]()
	p := Prime[C]()

	u := *a
	v := p
	var A, Cc Int[C]
	A[0] = 1

	for !IsZero(&u) {
		for !IsOdd(&u) {
			Rshift(&u, &u)
			halveMod(&A, &p, n)
		}
		for !IsOdd(&v) {
			Rshift(&v, &v)
			halveMod(&Cc, &p, n)
		}
		if Compare(&u, &v) >= 0 {
			Sub(&u, &u, &v)
			SubMod(&A, &A, &Cc)
		} else {
			Sub(&v, &v, &u)
			SubMod(&Cc, &Cc, &A)
		}
	}

	if Compare(&Cc, &p) >= 0 {
		Sub(out, &Cc, &p)
	} else {
		*out = Cc
	}
}

// halveMod sets x = x/2 mod p.
func halveMod[C Curve](x, p *Int[C], n int) {
	if !IsOdd(x) {
		Rshift(x, x)
		return
	}
	top := Add(x, x, p)
	Rshift(x, x)
	x[n-1] |= top << 31
}

func compareWords(a, b []uint32) int {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] > b[i] {
			return 1
		}
		if a[i] < b[i] {
			return -1
		}
	}
	return 0
}

func addWords(c, a, b []uint32) uint32 {
	var carry uint32
	for i := range c {
		c[i], carry = bits.Add32(a[i], b[i], carry)
	}
	return carry
}

func subWords(c, a, b []uint32) uint32 {
	var borrow uint32
	for i := range c {
		c[i], borrow = bits.Sub32(a[i], b[i], borrow)
	}
	return borrow
}

// normalize brings r + carry*2^(32*len(r)) into [0, p).
func normalize(r []uint32, carry int64, p []uint32) {
	for carry < 0 {
		carry += int64(addWords(r, r, p))
	}
	for carry > 0 || compareWords(r, p) >= 0 {
		carry -= int64(subWords(r, r, p))
	}
}
