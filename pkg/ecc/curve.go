// Package ecc implements Jacobian point arithmetic on the NIST P-192 and
// P-256 curves on top of the field package.
//
// Points are held in Jacobian coordinates (X/Z^2, Y/Z^3). A point with Z = 0
// is the point at infinity. Affine points have Z = 1.
package ecc

import (
	"errors"

	"github.com/mash-protocol/blesmp/pkg/field"
)

// Errors returned by the key helpers.
var (
	ErrNotOnCurve      = errors.New("ecc: point not on curve")
	ErrInfinity        = errors.New("ecc: point at infinity")
	ErrInvalidEncoding = errors.New("ecc: invalid coordinate encoding")
)

// Point is a curve point in Jacobian coordinates.
type Point[C field.Curve] struct {
	X, Y, Z field.Int[C]
}

// Params describes a short Weierstrass curve y^2 = x^3 - 3x + b.
type Params[C field.Curve] struct {
	Name string
	B    field.Int[C]
	N    field.Int[C]
	G    Point[C]
}

// Curve192 holds the NIST P-192 parameters.
var Curve192 = &Params[field.P192]{
	Name: "P-192",
	B:    field.MustHex[field.P192]("64210519E59C80E70FA7E9AB72243049FEB8DEECC146B9B1"),
	N:    field.MustHex[field.P192]("FFFFFFFFFFFFFFFFFFFFFFFF99DEF836146BC9B1B4D22831"),
	G: Point[field.P192]{
		X: field.MustHex[field.P192]("188DA80EB03090F67CBF20EB43A18800F4FF0AFD82FF1012"),
		Y: field.MustHex[field.P192]("07192B95FFC8DA78631011ED6B24CDD573F977A11E794811"),
		Z: field.One[field.P192](),
	},
}

// Curve256 holds the NIST P-256 parameters.
var Curve256 = &Params[field.P256]{
	Name: "P-256",
	B:    field.MustHex[field.P256]("5AC635D8AA3A93E7B3EBBD55769886BC651D06B0CC53B0F63BCE3C3E27D2604B"),
	N:    field.MustHex[field.P256]("FFFFFFFF00000000FFFFFFFFFFFFFFFFBCE6FAADA7179E84F3B9CAC2FC632551"),
	G: Point[field.P256]{
		X: field.MustHex[field.P256]("6B17D1F2E12C4247F8BCE6E563A440F277037D812DEB33A0F4A13945D898C296"),
		Y: field.MustHex[field.P256]("4FE342E2FE1A7F9B8EE7EB4A7C0F9E162BCE33576B315ECECBB6406837BF51F5"),
		Z: field.One[field.P256](),
	},
}

// Infinity returns the point at infinity.
func (c *Params[C]) Infinity() Point[C] {
	return Point[C]{X: field.One[C](), Y: field.One[C]()}
}

// IsInfinity reports whether p is the point at infinity.
func (p *Point[C]) IsInfinity() bool {
	return field.IsZero(&p.Z)
}

// Affine returns the point (x, y) with Z = 1.
func Affine[C field.Curve](x, y field.Int[C]) Point[C] {
	return Point[C]{X: x, Y: y, Z: field.One[C]()}
}

// Negate returns -p.
func (c *Params[C]) Negate(p Point[C]) Point[C] {
	if p.IsInfinity() || field.IsZero(&p.Y) {
		return p
	}
	var zero field.Int[C]
	field.SubMod(&p.Y, &zero, &p.Y)
	return p
}

// Equal reports whether a and b are the same point, whatever their Z.
func (c *Params[C]) Equal(a, b Point[C]) bool {
	if a.IsInfinity() || b.IsInfinity() {
		return a.IsInfinity() && b.IsInfinity()
	}
	a = c.ToAffine(a)
	b = c.ToAffine(b)
	return a.X == b.X && a.Y == b.Y
}

// ToAffine normalizes p to Z = 1. Infinity is returned unchanged.
func (c *Params[C]) ToAffine(p Point[C]) Point[C] {
	if p.IsInfinity() {
		return c.Infinity()
	}
	one := field.One[C]()
	if p.Z == one {
		return p
	}

	var zinv, zinv2, zinv3 field.Int[C]
	field.InvMod(&zinv, &p.Z)
	field.MersenneSquaMod(&zinv2, &zinv)
	field.MersenneMultMod(&zinv3, &zinv2, &zinv)

	var r Point[C]
	field.MersenneMultMod(&r.X, &p.X, &zinv2)
	field.MersenneMultMod(&r.Y, &p.Y, &zinv3)
	r.Z = one
	return r
}

// PointOnCurve reports whether the affine point p satisfies the curve
// equation with both coordinates reduced.
func (c *Params[C]) PointOnCurve(p Point[C]) bool {
	if p.IsInfinity() {
		return false
	}
	prime := field.Prime[C]()
	if field.Compare(&p.X, &prime) >= 0 || field.Compare(&p.Y, &prime) >= 0 {
		return false
	}
	p = c.ToAffine(p)

	var y2, x3, t field.Int[C]
	field.MersenneSquaMod(&y2, &p.Y)

	field.MersenneSquaMod(&x3, &p.X)
	field.MersenneMultMod(&x3, &x3, &p.X)
	field.LshiftMod(&t, &p.X)
	field.AddMod(&t, &t, &p.X)
	field.SubMod(&x3, &x3, &t)
	field.AddMod(&x3, &x3, &c.B)

	return y2 == x3
}
