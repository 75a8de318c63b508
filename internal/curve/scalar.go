package curve

import (
	"crypto/rand"
	"math/big"
)

// RandScalar draws a uniformly random scalar in [1, N-1].
func RandScalar() (*big.Int, error) {
	for {
		k, err := rand.Int(rand.Reader, N)
		if err != nil {
			return nil, err
		}
		if k.Sign() != 0 {
			return k, nil
		}
	}
}

// AddMod returns (a + b) mod N.
func AddMod(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Add(a, b), N)
}

// MulMod returns (a * b) mod N.
func MulMod(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Mul(a, b), N)
}

// BytesToScalarMod reduces a big-endian byte string mod N, as used to turn a
// SHA256 digest into a scalar challenge.
func BytesToScalarMod(b []byte) *big.Int {
	return new(big.Int).Mod(new(big.Int).SetBytes(b), N)
}
