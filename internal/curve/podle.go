package curve

import (
	"crypto/sha256"
	"errors"
	"math/big"
)

// Failure modes for PoDLE verification, per spec.md §4.1.
var (
	ErrMalformed          = errors.New("podle: malformed proof")
	ErrCommitmentMismatch = errors.New("podle: commitment mismatch")
	ErrProofInvalid       = errors.New("podle: proof invalid")
)

// DefaultRetryIndices is the preferred index acceptance set; index 0 is the
// first choice, widened by configuration on makers that want to accept more.
var DefaultRetryIndices = []int{0, 1, 2}

// Proof is a published PoDLE proof: (P, P2, s, e, index).
type Proof struct {
	P     Point
	P2    Point
	S     *big.Int
	E     *big.Int
	Index int
}

// Commitment returns SHA256(serialize(P2)), the value a maker blacklists.
func (pr Proof) Commitment() []byte {
	h := sha256.Sum256(pr.P2.Serialize())
	return h[:]
}

// CommitmentFor computes the commitment hash for (privkey k, index i) without
// producing a full reveal — used by a taker to pre-announce C in !fill
// before the full proof is sent in !auth.
func CommitmentFor(k *big.Int, index int) ([]byte, error) {
	j, err := NUMSPoint(index)
	if err != nil {
		return nil, err
	}
	p2 := j.ScalarMult(k)
	h := sha256.Sum256(p2.Serialize())
	return h[:], nil
}

// Prove produces a PoDLE proof that the caller knows k such that P = k*G and
// P2 = k*J_i share the same discrete log k, without revealing k.
func Prove(k *big.Int, index int) (Proof, error) {
	j, err := NUMSPoint(index)
	if err != nil {
		return Proof{}, err
	}

	p := ScalarBaseMult(k)
	p2 := j.ScalarMult(k)

	r, err := RandScalar()
	if err != nil {
		return Proof{}, err
	}

	kg := ScalarBaseMult(r)
	kj := j.ScalarMult(r)

	e := challengeHash(kg, kj, p, p2)
	s := AddMod(r, MulMod(e, k))

	return Proof{P: p, P2: p2, S: s, E: e, Index: index}, nil
}

// Verify checks a PoDLE proof's points are well-formed and checks the
// challenge equation
// e == SHA256(ser(s·G − e·P) || ser(s·J_i − e·P2) || ser(P) || ser(P2)).
// It does not compare the commitment against an announced value; see
// VerifyAgainstCommitment for that.
func Verify(pr Proof) error {
	if pr.P.X == nil || pr.P.Y == nil || pr.P2.X == nil || pr.P2.Y == nil || pr.S == nil || pr.E == nil {
		return ErrMalformed
	}
	if !pr.P.IsOnCurve() || !pr.P2.IsOnCurve() {
		return ErrMalformed
	}

	j, err := NUMSPoint(pr.Index)
	if err != nil {
		return ErrMalformed
	}

	kG := ScalarBaseMult(pr.S).Sub(pr.P.ScalarMult(pr.E))
	kJ := j.ScalarMult(pr.S).Sub(pr.P2.ScalarMult(pr.E))

	recomputed := challengeHash(kG, kJ, pr.P, pr.P2)
	if recomputed.Cmp(pr.E) != 0 {
		return ErrProofInvalid
	}

	return nil
}

// VerifyAgainstCommitment checks a full proof and additionally requires its
// embedded commitment to equal the previously-announced commitment hash
// (the one sent at !fill time, before !auth reveals the full proof).
func VerifyAgainstCommitment(pr Proof, wantCommitment []byte) error {
	got := pr.Commitment()
	if len(got) != len(wantCommitment) {
		return ErrCommitmentMismatch
	}
	for i := range got {
		if got[i] != wantCommitment[i] {
			return ErrCommitmentMismatch
		}
	}
	return Verify(pr)
}

func challengeHash(kg, kj, p, p2 Point) *big.Int {
	h := sha256.New()
	h.Write(kg.Serialize())
	h.Write(kj.Serialize())
	h.Write(p.Serialize())
	h.Write(p2.Serialize())
	return BytesToScalarMod(h.Sum(nil))
}

// AcceptsIndex reports whether index is within the given acceptance set.
func AcceptsIndex(index int, accepted []int) bool {
	for _, a := range accepted {
		if a == index {
			return true
		}
	}
	return false
}
