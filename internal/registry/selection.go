package registry

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/rawblock/coinjoind/internal/backend"
	"github.com/rawblock/coinjoind/pkg/models"
)

// Algorithm selects the maker-selection strategy (spec.md §4.3).
type Algorithm int

const (
	AlgoCheapest Algorithm = iota
	AlgoWeighted
	AlgoRandom
	AlgoFidelityBondWeighted
)

// BondWeightedFraction is the fraction of slots filled from the bond
// distribution under AlgoFidelityBondWeighted; the rest fill uniformly.
// spec.md §9 calls the 7/8 split a "magic constant... exposed as a tunable
// for research" — kept as a package variable rather than an inline literal.
var BondWeightedFraction = 7.0 / 8.0

// SelectionRequest carries the taker's filter criteria for one CoinJoin run.
type SelectionRequest struct {
	Amount      int64
	Kind        models.OfferKind
	MaxFeeRate  float64 // fee ceiling, interpreted in the same units as EffectiveFee/Amount
	N           int
	IgnoredNicks map[string]bool
	Alpha       float64 // weighting constant for AlgoWeighted
	Scorer      backend.BondScorer
	CurrentHeight int64
}

// ErrInsufficientAnonymitySet is returned when counterparty_count is 1
// (spec.md Boundary behaviors: "counterparty_count = 1 is rejected").
var ErrInsufficientAnonymitySet = fmt.Errorf("registry: counterparty_count = 1 is rejected")

// Select runs the three-phase procedure: filter, deduplicate (cheapest per
// maker nick), then select N via the requested algorithm.
func Select(offers []models.Offer, algo Algorithm, req SelectionRequest) ([]models.Offer, error) {
	if req.N <= 1 {
		return nil, ErrInsufficientAnonymitySet
	}

	filtered := filterOffers(offers, req)
	deduped := dedupeCheapestPerNick(filtered)

	if len(deduped) <= req.N {
		return deduped, nil
	}

	switch algo {
	case AlgoCheapest:
		return selectCheapest(deduped, req.N), nil
	case AlgoWeighted:
		return selectWeighted(deduped, req.N, req.Alpha)
	case AlgoRandom:
		return selectRandomN(deduped, req.N)
	case AlgoFidelityBondWeighted:
		return selectFidelityBondWeighted(deduped, req.N, req)
	default:
		return nil, fmt.Errorf("registry: unknown selection algorithm %d", algo)
	}
}

// filterOffers drops offers that don't bracket the amount, exceed the fee
// ceiling, mismatch kind, or originate from an ignored nick.
func filterOffers(offers []models.Offer, req SelectionRequest) []models.Offer {
	out := make([]models.Offer, 0, len(offers))
	for _, o := range offers {
		if req.IgnoredNicks != nil && req.IgnoredNicks[o.MakerNick] {
			continue
		}
		if o.Kind != req.Kind {
			continue
		}
		if !o.Brackets(req.Amount) {
			continue
		}
		if req.MaxFeeRate > 0 {
			effectiveRate := float64(o.EffectiveFee(req.Amount)) / float64(req.Amount)
			if effectiveRate > req.MaxFeeRate {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

// dedupeCheapestPerNick groups surviving offers by maker nick and keeps
// only the cheapest — this is what enforces "selection probability is per
// maker identity, not per offer" (spec.md §4.3).
func dedupeCheapestPerNick(offers []models.Offer) []models.Offer {
	best := make(map[string]models.Offer)
	for _, o := range offers {
		cur, ok := best[o.MakerNick]
		if !ok {
			best[o.MakerNick] = o
			continue
		}
		if o.CJFeeValue < cur.CJFeeValue || (o.CJFeeValue == cur.CJFeeValue && o.OrderID < cur.OrderID) {
			best[o.MakerNick] = o
		}
	}

	out := make([]models.Offer, 0, len(best))
	for _, o := range best {
		out = append(out, o)
	}
	return out
}

func selectCheapest(offers []models.Offer, n int) []models.Offer {
	sorted := append([]models.Offer(nil), offers...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CJFeeValue != sorted[j].CJFeeValue {
			return sorted[i].CJFeeValue < sorted[j].CJFeeValue
		}
		return sorted[i].OrderID < sorted[j].OrderID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// selectWeighted draws n offers without replacement, weighted
// proportionally to exp(-alpha * fee).
func selectWeighted(offers []models.Offer, n int, alpha float64) ([]models.Offer, error) {
	weights := make([]float64, len(offers))
	for i, o := range offers {
		weights[i] = math.Exp(-alpha * o.CJFeeValue)
	}
	idx, err := weightedSampleWithoutReplacement(weights, n)
	if err != nil {
		return nil, err
	}
	out := make([]models.Offer, len(idx))
	for i, id := range idx {
		out[i] = offers[id]
	}
	return out, nil
}

func selectRandomN(offers []models.Offer, n int) ([]models.Offer, error) {
	weights := make([]float64, len(offers))
	for i := range weights {
		weights[i] = 1
	}
	idx, err := weightedSampleWithoutReplacement(weights, n)
	if err != nil {
		return nil, err
	}
	out := make([]models.Offer, len(idx))
	for i, id := range idx {
		out[i] = offers[id]
	}
	return out, nil
}

// selectFidelityBondWeighted fills floor(BondWeightedFraction*N) slots from
// the bond-score distribution and the remainder uniformly from whatever's
// left (spec.md §4.3, Scenario 6).
func selectFidelityBondWeighted(offers []models.Offer, n int, req SelectionRequest) ([]models.Offer, error) {
	bondSlots := int(math.Floor(BondWeightedFraction * float64(n)))
	uniformSlots := n - bondSlots

	weights := make([]float64, len(offers))
	for i, o := range offers {
		if req.Scorer == nil || o.BondProof == nil {
			weights[i] = 0
			continue
		}
		weights[i] = req.Scorer.Score(o.BondProof, req.CurrentHeight)
	}

	chosen := make(map[int]bool)
	var result []models.Offer

	bondIdx, err := weightedSampleWithoutReplacementExcluding(weights, bondSlots, chosen)
	if err != nil {
		return nil, err
	}
	for _, i := range bondIdx {
		chosen[i] = true
		result = append(result, offers[i])
	}

	remainingWeights := make([]float64, len(offers))
	for i := range offers {
		if chosen[i] {
			continue
		}
		remainingWeights[i] = 1
	}
	uniformIdx, err := weightedSampleWithoutReplacementExcluding(remainingWeights, uniformSlots, chosen)
	if err != nil {
		return nil, err
	}
	for _, i := range uniformIdx {
		result = append(result, offers[i])
	}

	return result, nil
}

// weightedSampleWithoutReplacement draws n distinct indices from weights
// with probability proportional to weight, without replacement.
func weightedSampleWithoutReplacement(weights []float64, n int) ([]int, error) {
	return weightedSampleWithoutReplacementExcluding(weights, n, nil)
}

func weightedSampleWithoutReplacementExcluding(weights []float64, n int, excluded map[int]bool) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}

	remaining := make([]int, 0, len(weights))
	for i, w := range weights {
		if excluded != nil && excluded[i] {
			continue
		}
		if w > 0 {
			remaining = append(remaining, i)
		}
	}
	if len(remaining) < n {
		// Not enough strictly-positive-weight candidates: fall back to
		// making every remaining (non-excluded) candidate eligible, so the
		// draw can still complete. Positive weights are kept; zero weights
		// become negligible (see below).
		remaining = remaining[:0]
		for i := range weights {
			if excluded == nil || !excluded[i] {
				remaining = append(remaining, i)
			}
		}
	}
	if len(remaining) < n {
		return nil, fmt.Errorf("registry: not enough candidates to draw %d without replacement (have %d)", n, len(remaining))
	}

	chosen := make([]int, 0, n)
	pool := append([]int(nil), remaining...)
	poolWeights := make([]float64, len(pool))
	for i, idx := range pool {
		w := weights[idx]
		if w <= 0 {
			w = 1e-9 // fallback path: treat as negligible-but-eligible
		}
		poolWeights[i] = w
	}

	for len(chosen) < n {
		total := 0.0
		for _, w := range poolWeights {
			total += w
		}
		r, err := randFloat(total)
		if err != nil {
			return nil, err
		}

		cum := 0.0
		pick := len(pool) - 1
		for i, w := range poolWeights {
			cum += w
			if r < cum {
				pick = i
				break
			}
		}

		chosen = append(chosen, pool[pick])
		pool = append(pool[:pick], pool[pick+1:]...)
		poolWeights = append(poolWeights[:pick], poolWeights[pick+1:]...)
	}

	return chosen, nil
}

// randFloat draws a uniform random float64 in [0, max) using a
// crypto-grade source, matching the rest of this module's randomness.
func randFloat(max float64) (float64, error) {
	const precision = 1 << 53
	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return 0, err
	}
	return (float64(n.Int64()) / float64(precision)) * max, nil
}
