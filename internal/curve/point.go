// Package curve implements the secp256k1 scalar/point arithmetic and the
// PoDLE (proof of discrete-log equivalence) primitives the rest of the
// coordination core builds on. The point operations are expressed against
// crypto/elliptic's Curve interface, same as the rest of the btcsuite stack,
// so NUMS-point generation stays bit-identical across implementations.
package curve

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

// N is the order of the secp256k1 base point G.
var N = btcec.S256().Params().N

// P is the field prime secp256k1 is defined over.
var P = btcec.S256().Params().P

// Point is an affine secp256k1 curve point.
type Point struct {
	X, Y *big.Int
}

// G is the standard SEC2 secp256k1 generator.
func G() Point {
	params := btcec.S256().Params()
	return Point{X: new(big.Int).Set(params.Gx), Y: new(big.Int).Set(params.Gy)}
}

// IsInfinity reports whether p is the point at infinity.
func (p Point) IsInfinity() bool {
	return p.X == nil || p.Y == nil || (p.X.Sign() == 0 && p.Y.Sign() == 0)
}

// IsOnCurve reports whether p satisfies y² = x³ + 7 mod p.
func (p Point) IsOnCurve() bool {
	if p.IsInfinity() {
		return false
	}
	return btcec.S256().IsOnCurve(p.X, p.Y)
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	if p.IsInfinity() {
		return q
	}
	if q.IsInfinity() {
		return p
	}
	x, y := btcec.S256().Add(p.X, p.Y, q.X, q.Y)
	return Point{X: x, Y: y}
}

// ScalarMult returns k*p.
func (p Point) ScalarMult(k *big.Int) Point {
	kBytes := new(big.Int).Mod(k, N).Bytes()
	x, y := btcec.S256().ScalarMult(p.X, p.Y, kBytes)
	return Point{X: x, Y: y}
}

// ScalarBaseMult returns k*G.
func ScalarBaseMult(k *big.Int) Point {
	kBytes := new(big.Int).Mod(k, N).Bytes()
	x, y := btcec.S256().ScalarBaseMult(kBytes)
	return Point{X: x, Y: y}
}

// Neg returns -p (the point with the same X, negated Y mod P).
func (p Point) Neg() Point {
	return Point{X: new(big.Int).Set(p.X), Y: new(big.Int).Sub(P, p.Y)}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return p.Add(q.Neg())
}

// Serialize encodes p in 33-byte SEC1 compressed form.
func (p Point) Serialize() []byte {
	out := make([]byte, 33)
	if p.Y.Bit(0) == 0 {
		out[0] = 0x02
	} else {
		out[0] = 0x03
	}
	xBytes := p.X.Bytes()
	copy(out[33-len(xBytes):], xBytes)
	return out
}

// SerializeUncompressed encodes p in 65-byte SEC1 uncompressed form.
func (p Point) SerializeUncompressed() []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	xBytes := p.X.Bytes()
	yBytes := p.Y.Bytes()
	copy(out[33-len(xBytes):33], xBytes)
	copy(out[65-len(yBytes):], yBytes)
	return out
}

// ParsePoint decodes a compressed or uncompressed SEC1-encoded point.
func ParsePoint(data []byte) (Point, error) {
	pub, err := btcec.ParsePubKey(data)
	if err != nil {
		return Point{}, fmt.Errorf("parse point: %w", err)
	}
	return Point{X: pub.X(), Y: pub.Y()}, nil
}

// liftX returns the even-Y point with the given x-coordinate, if one exists
// on the curve. Used directly by NUMS-point generation, which always wants
// the even-Y (0x02-prefixed) candidate.
func liftX(x *big.Int) (Point, bool) {
	candidate := make([]byte, 33)
	candidate[0] = 0x02
	xBytes := x.Bytes()
	if len(xBytes) > 32 {
		return Point{}, false
	}
	copy(candidate[33-len(xBytes):], xBytes)
	pt, err := ParsePoint(candidate)
	if err != nil {
		return Point{}, false
	}
	return pt, true
}
