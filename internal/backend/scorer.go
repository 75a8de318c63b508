package backend

import (
	"math"

	"github.com/rawblock/coinjoind/pkg/models"
)

// BondScorer is the pluggable fidelity-bond scoring function named in
// spec.md §4.3: score(bond_proof, current_height) -> non_negative_real.
// Bond *economics* are explicitly a non-goal; this interface exists so the
// selection algorithm never needs to know how a score is computed.
type BondScorer interface {
	Score(proof *models.BondProof, currentHeight int64) float64
}

// LinearBondScorer is the one concrete scorer this core ships: a bond's
// weight is its locked value in BTC times (timelock − currentHeight), the
// simplest fidelity-bond weighting scheme consistent with "more value
// locked for longer is worth more".
type LinearBondScorer struct {
	// ValueLookup resolves a bond's underlying UTXO value in satoshis.
	// Left as a function field (not folded into the struct) so tests can
	// supply a fixed table without standing up an Oracle.
	ValueLookup func(proof *models.BondProof) (satoshis int64)
}

// Score returns 0 for a nil or expired bond, otherwise
// satoshis * max(0, timelock - currentHeight) / 1e8.
func (s LinearBondScorer) Score(proof *models.BondProof, currentHeight int64) float64 {
	if proof == nil {
		return 0
	}
	if int64(proof.CertExpiry)*2016 <= currentHeight {
		return 0
	}
	remaining := float64(proof.Timelock) - float64(currentHeight)
	if remaining <= 0 {
		return 0
	}

	var satoshis int64
	if s.ValueLookup != nil {
		satoshis = s.ValueLookup(proof)
	}
	if satoshis <= 0 {
		return 0
	}

	return math.Max(0, remaining) * float64(satoshis) / 1e8
}
