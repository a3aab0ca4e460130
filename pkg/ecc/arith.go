package ecc

import (
	"github.com/mash-protocol/blesmp/pkg/field"
)

// Double returns 2p using the a = -3 shortcut
// M = 3(X - Z^2)(X + Z^2).
func (c *Params[C]) Double(p Point[C]) Point[C] {
	if p.IsInfinity() || field.IsZero(&p.Y) {
		return c.Infinity()
	}

	var zz, t1, t2, m field.Int[C]
	field.MersenneSquaMod(&zz, &p.Z)
	field.SubMod(&t1, &p.X, &zz)
	field.AddMod(&t2, &p.X, &zz)
	field.MersenneMultMod(&m, &t1, &t2)
	field.LshiftMod(&t1, &m)
	field.AddMod(&m, &m, &t1)

	var r Point[C]
	field.MersenneMultMod(&r.Z, &p.Y, &p.Z)
	field.LshiftMod(&r.Z, &r.Z)

	// S = 4XY^2
	var yy, s field.Int[C]
	field.MersenneSquaMod(&yy, &p.Y)
	field.MersenneMultMod(&s, &p.X, &yy)
	field.LshiftMod(&s, &s)
	field.LshiftMod(&s, &s)

	// 8Y^4
	var y4 field.Int[C]
	field.MersenneSquaMod(&y4, &yy)
	field.LshiftMod(&y4, &y4)
	field.LshiftMod(&y4, &y4)
	field.LshiftMod(&y4, &y4)

	field.MersenneSquaMod(&r.X, &m)
	field.LshiftMod(&t1, &s)
	field.SubMod(&r.X, &r.X, &t1)

	field.SubMod(&t1, &s, &r.X)
	field.MersenneMultMod(&r.Y, &m, &t1)
	field.SubMod(&r.Y, &r.Y, &y4)
	return r
}

// Add returns p + q where q is affine (Z = 1) or infinity.
func (c *Params[C]) Add(p, q Point[C]) Point[C] {
	if q.IsInfinity() {
		return p
	}
	if p.IsInfinity() {
		return q
	}

	var zz, zzz, u2, s2 field.Int[C]
	field.MersenneSquaMod(&zz, &p.Z)
	field.MersenneMultMod(&zzz, &zz, &p.Z)
	field.MersenneMultMod(&u2, &q.X, &zz)
	field.MersenneMultMod(&s2, &q.Y, &zzz)

	var h, r field.Int[C]
	field.SubMod(&h, &u2, &p.X)
	field.SubMod(&r, &s2, &p.Y)

	if field.IsZero(&h) {
		if field.IsZero(&r) {
			return c.Double(q)
		}
		return c.Infinity()
	}

	var hh, hhh, v field.Int[C]
	field.MersenneSquaMod(&hh, &h)
	field.MersenneMultMod(&hhh, &hh, &h)
	field.MersenneMultMod(&v, &p.X, &hh)

	var out Point[C]
	field.MersenneMultMod(&out.Z, &p.Z, &h)

	var t field.Int[C]
	field.MersenneSquaMod(&out.X, &r)
	field.LshiftMod(&t, &v)
	field.SubMod(&out.X, &out.X, &t)
	field.SubMod(&out.X, &out.X, &hhh)

	field.SubMod(&t, &v, &out.X)
	field.MersenneMultMod(&out.Y, &r, &t)
	field.MersenneMultMod(&t, &p.Y, &hhh)
	field.SubMod(&out.Y, &out.Y, &t)
	return out
}

// ToNAF returns the non-adjacent form of k, least significant digit first.
// Every digit is -1, 0 or 1 and no two adjacent digits are nonzero.
func ToNAF[C field.Curve](k *field.Int[C]) []int8 {
	var cv C
	n := cv.Words()

	// One spare word absorbs the carry of k+1 at the top.
	w := make([]uint32, n+1)
	copy(w, k[:n])

	digits := make([]int8, 0, 32*n+1)
	for !wordsZero(w) {
		var d int8
		if w[0]&1 == 1 {
			if w[0]&3 == 1 {
				d = 1
				w[0]--
			} else {
				d = -1
				incWords(w)
			}
		}
		digits = append(digits, d)
		shrWords(w)
	}
	return digits
}

// ScalarMult returns k*p in affine form. p must be affine. The result is
// infinity when k is zero or a multiple of the order of p.
func (c *Params[C]) ScalarMult(k *field.Int[C], p Point[C]) Point[C] {
	if field.IsZero(k) || p.IsInfinity() {
		return c.Infinity()
	}
	p = c.ToAffine(p)
	neg := c.Negate(p)

	naf := ToNAF(k)
	r := c.Infinity()
	for i := len(naf) - 1; i >= 0; i-- {
		r = c.Double(r)
		switch naf[i] {
		case 1:
			r = c.Add(r, p)
		case -1:
			r = c.Add(r, neg)
		}
	}
	return c.ToAffine(r)
}

// ScalarBaseMult returns k*G in affine form.
func (c *Params[C]) ScalarBaseMult(k *field.Int[C]) Point[C] {
	return c.ScalarMult(k, c.G)
}

func wordsZero(w []uint32) bool {
	for _, v := range w {
		if v != 0 {
			return false
		}
	}
	return true
}

func incWords(w []uint32) {
	for i := range w {
		w[i]++
		if w[i] != 0 {
			return
		}
	}
}

func shrWords(w []uint32) {
	for i := 0; i < len(w)-1; i++ {
		w[i] = w[i]>>1 | w[i+1]<<31
	}
	w[len(w)-1] >>= 1
}
