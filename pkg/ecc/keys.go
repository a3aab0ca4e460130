package ecc

import (
	"fmt"
	"io"

	"github.com/mash-protocol/blesmp/pkg/field"
)

// maxKeyAttempts bounds rejection sampling in GenerateKey.
const maxKeyAttempts = 64

// GenerateKey draws a private scalar in [1, N-1] from rand and returns it
// with the matching affine public point.
func (c *Params[C]) GenerateKey(rand io.Reader) (field.Int[C], Point[C], error) {
	var cv C
	buf := make([]byte, 4*cv.Words())

	for i := 0; i < maxKeyAttempts; i++ {
		if _, err := io.ReadFull(rand, buf); err != nil {
			return field.Int[C]{}, Point[C]{}, fmt.Errorf("ecc: read random: %w", err)
		}
		var d field.Int[C]
		if err := field.SetBytes(&d, buf); err != nil {
			return field.Int[C]{}, Point[C]{}, err
		}
		if field.IsZero(&d) || field.Compare(&d, &c.N) >= 0 {
			continue
		}
		return d, c.ScalarBaseMult(&d), nil
	}
	return field.Int[C]{}, Point[C]{}, fmt.Errorf("ecc: no valid scalar after %d attempts", maxKeyAttempts)
}

// PointFromBytes builds an affine point from big-endian coordinates and
// checks that it lies on the curve.
func (c *Params[C]) PointFromBytes(x, y []byte) (Point[C], error) {
	var p Point[C]
	if err := field.SetBytes(&p.X, x); err != nil {
		return Point[C]{}, fmt.Errorf("%w: x: %v", ErrInvalidEncoding, err)
	}
	if err := field.SetBytes(&p.Y, y); err != nil {
		return Point[C]{}, fmt.Errorf("%w: y: %v", ErrInvalidEncoding, err)
	}
	p.Z = field.One[C]()
	if !c.PointOnCurve(p) {
		return Point[C]{}, ErrNotOnCurve
	}
	return p, nil
}

// SharedSecret returns the X coordinate of d*peer. The peer point is
// validated first.
func (c *Params[C]) SharedSecret(d *field.Int[C], peer Point[C]) (field.Int[C], error) {
	if !c.PointOnCurve(peer) {
		return field.Int[C]{}, ErrNotOnCurve
	}
	s := c.ScalarMult(d, peer)
	if s.IsInfinity() {
		return field.Int[C]{}, ErrInfinity
	}
	return s.X, nil
}
