package curve

import (
	"math/big"
	"testing"
)

func TestProvePassesVerify(t *testing.T) {
	k, err := RandScalar()
	if err != nil {
		t.Fatalf("RandScalar: %v", err)
	}

	pr, err := Prove(k, 0)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	if err := Verify(pr); err != nil {
		t.Errorf("Verify() = %v, want nil", err)
	}
}

func TestVerifyAgainstCommitment(t *testing.T) {
	k, _ := RandScalar()
	pr, err := Prove(k, 1)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	commitment := pr.Commitment()
	if err := VerifyAgainstCommitment(pr, commitment); err != nil {
		t.Errorf("VerifyAgainstCommitment() = %v, want nil", err)
	}

	wrongCommitment := make([]byte, len(commitment))
	copy(wrongCommitment, commitment)
	wrongCommitment[0] ^= 0xff
	if err := VerifyAgainstCommitment(pr, wrongCommitment); err != ErrCommitmentMismatch {
		t.Errorf("VerifyAgainstCommitment() = %v, want ErrCommitmentMismatch", err)
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	k, _ := RandScalar()
	pr, err := Prove(k, 0)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	tampered := pr
	tampered.S = new(big.Int).Add(pr.S, big.NewInt(1))

	if err := Verify(tampered); err != ErrProofInvalid {
		t.Errorf("Verify(tampered) = %v, want ErrProofInvalid", err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	if err := Verify(Proof{}); err != ErrMalformed {
		t.Errorf("Verify(zero value) = %v, want ErrMalformed", err)
	}
}

func TestAcceptsIndex(t *testing.T) {
	if !AcceptsIndex(0, DefaultRetryIndices) {
		t.Error("index 0 should be in default accept set")
	}
	if AcceptsIndex(3, DefaultRetryIndices) {
		t.Error("index 3 should not be in default accept set")
	}
}

// TestProveDoesNotLeakPrivateKey is a coarse sanity check: two proofs over
// the same index with the same private key must share P, while the nonce r
// must differ across calls (S values differ), since r is drawn fresh every
// time.
func TestProveDoesNotLeakPrivateKey(t *testing.T) {
	k, _ := RandScalar()
	pr1, _ := Prove(k, 0)
	pr2, _ := Prove(k, 0)

	if pr1.S.Cmp(pr2.S) == 0 {
		t.Error("two proofs over the same key produced identical s — nonce reuse")
	}
	if string(pr1.P.Serialize()) != string(pr2.P.Serialize()) {
		t.Error("P should be stable for the same key")
	}
}
