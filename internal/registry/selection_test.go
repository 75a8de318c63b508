package registry

import (
	"fmt"
	"testing"

	"github.com/rawblock/coinjoind/pkg/models"
)

func makeOffer(nick string, orderID int64, fee float64) models.Offer {
	return models.Offer{
		MakerNick:  nick,
		OrderID:    orderID,
		Kind:       models.OfferRelative,
		MinSize:    0,
		MaxSize:    10_000_000,
		CJFeeValue: fee,
	}
}

func TestSelectRejectsSingleCounterparty(t *testing.T) {
	offers := []models.Offer{makeOffer("J1a", 1, 0.001)}
	_, err := Select(offers, AlgoCheapest, SelectionRequest{Amount: 100_000, Kind: models.OfferRelative, N: 1})
	if err != ErrInsufficientAnonymitySet {
		t.Fatalf("Select(N=1) = %v, want ErrInsufficientAnonymitySet", err)
	}
}

func TestSelectKeepsAtMostOneOfferPerMaker(t *testing.T) {
	offers := []models.Offer{
		makeOffer("J1a", 1, 0.005),
		makeOffer("J1a", 2, 0.001), // cheaper, same maker
		makeOffer("J1b", 3, 0.002),
		makeOffer("J1c", 4, 0.003),
	}

	chosen, err := Select(offers, AlgoCheapest, SelectionRequest{Amount: 100_000, Kind: models.OfferRelative, N: 2})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	seen := make(map[string]bool)
	for _, o := range chosen {
		if seen[o.MakerNick] {
			t.Fatalf("maker %s selected more than once: %+v", o.MakerNick, chosen)
		}
		seen[o.MakerNick] = true
	}

	for _, o := range chosen {
		if o.MakerNick == "J1a" && o.OrderID != 2 {
			t.Errorf("expected J1a's cheaper offer (order 2) to win dedup, got order %d", o.OrderID)
		}
	}
}

func TestSelectSkipsOutOfBracketAndIgnoredOffers(t *testing.T) {
	offers := []models.Offer{
		{MakerNick: "J1a", OrderID: 1, Kind: models.OfferRelative, MinSize: 0, MaxSize: 1_000, CJFeeValue: 0.001},
		{MakerNick: "J1b", OrderID: 2, Kind: models.OfferRelative, MinSize: 0, MaxSize: 10_000_000, CJFeeValue: 0.001},
		{MakerNick: "J1c", OrderID: 3, Kind: models.OfferRelative, MinSize: 0, MaxSize: 10_000_000, CJFeeValue: 0.001},
	}

	chosen, err := Select(offers, AlgoCheapest, SelectionRequest{
		Amount:       100_000,
		Kind:         models.OfferRelative,
		N:            5,
		IgnoredNicks: map[string]bool{"J1c": true},
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(chosen) != 1 || chosen[0].MakerNick != "J1b" {
		t.Fatalf("expected only J1b to survive bracket+ignore filtering, got %+v", chosen)
	}
}

type scoreByNick map[string]float64

func (s scoreByNick) Score(proof *models.BondProof, currentHeight int64) float64 {
	if proof == nil {
		return 0
	}
	return float64(proof.Timelock) // repurposed as an opaque per-offer score key in this test
}

func TestSelectFidelityBondWeightedFavorsHigherScores(t *testing.T) {
	const trials = 20_000
	const n = 4

	// 10 makers: 3 carry bonds scored 100, 40, 10; the rest are unbonded.
	bonded := map[string]float64{"J-bond-hi": 100, "J-bond-mid": 40, "J-bond-lo": 10}
	offers := make([]models.Offer, 0, 10)
	for nick, score := range bonded {
		offers = append(offers, models.Offer{
			MakerNick:  nick,
			OrderID:    int64(len(offers) + 1),
			Kind:       models.OfferRelative,
			MinSize:    0,
			MaxSize:    10_000_000,
			CJFeeValue: 0.001,
			BondProof:  &models.BondProof{Timelock: uint32(score)},
		})
	}
	for i := 0; i < 7; i++ {
		offers = append(offers, makeOffer(fmt.Sprintf("J-unbonded-%d", i), int64(len(offers)+1), 0.001))
	}

	scorer := scoreByNick{}

	counts := make(map[string]int)
	for i := 0; i < trials; i++ {
		chosen, err := Select(offers, AlgoFidelityBondWeighted, SelectionRequest{
			Amount:        100_000,
			Kind:          models.OfferRelative,
			N:             n,
			Scorer:        scorer,
			CurrentHeight: 0,
		})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if len(chosen) != n {
			t.Fatalf("Select returned %d offers, want %d", len(chosen), n)
		}
		for _, o := range chosen {
			counts[o.MakerNick]++
		}
	}

	if counts["J-bond-hi"] <= counts["J-bond-mid"] {
		t.Errorf("expected J-bond-hi (score 100) to be picked more often than J-bond-mid (score 40): hi=%d mid=%d", counts["J-bond-hi"], counts["J-bond-mid"])
	}
	if counts["J-bond-mid"] <= counts["J-bond-lo"] {
		t.Errorf("expected J-bond-mid (score 40) to be picked more often than J-bond-lo (score 10): mid=%d lo=%d", counts["J-bond-mid"], counts["J-bond-lo"])
	}
	if counts["J-bond-hi"] <= counts["J-unbonded-0"] {
		t.Errorf("expected the top bonded maker to beat an unbonded maker: hi=%d unbonded=%d", counts["J-bond-hi"], counts["J-unbonded-0"])
	}
}
