package taker

import (
	"fmt"

	"github.com/rawblock/coinjoind/pkg/models"
)

// ErrOutputBelowDust is returned when a required CoinJoin output would fall
// below the dust threshold (spec.md §4.4 step 4).
var ErrOutputBelowDust = fmt.Errorf("taker: coinjoin output below dust threshold")

// txBuildPhase assembles the unsigned transaction: inputs are the taker's
// own UTXOs plus every maker's declared UTXOs; outputs are one equal-value
// CoinJoin output per participant (makers + taker) plus per-participant
// change outputs above dust (spec.md §4.4 step 4).
func (e *Engine) txBuildPhase(req RunRequest, sessions []*makerSession) (models.Transaction, error) {
	var tx models.Transaction
	tx.Version = 2

	var totalIn, takerIn int64
	for _, in := range req.TakerInputs {
		tx.Inputs = append(tx.Inputs, models.TxIn{Txid: in.Txid, Vout: in.Vout, Value: in.Value})
		totalIn += in.Value
		takerIn += in.Value
	}
	for _, ms := range sessions {
		for _, in := range ms.Session.Inputs {
			tx.Inputs = append(tx.Inputs, models.TxIn{Txid: in.Txid, Vout: in.Vout, Value: in.Value})
			totalIn += in.Value
		}
	}

	participants := len(sessions) + 1 // makers + taker
	feeRate := e.Config.FeeRateSatPerVB
	if feeRate <= 0 {
		feeRate = estimatedFeeRateSatPerVB(e.Config.FeeEstimateBlocks)
	}
	// A conservative flat vsize estimate keeps this deterministic and
	// testable without a full weight calculator; real size depends on
	// script types resolved at signing time.
	estVsize := 110*len(tx.Inputs) + 45*(2*participants)
	totalFee := int64(feeRate * float64(estVsize))
	feeShare := totalFee / int64(participants)

	// Taker's own CoinJoin output.
	tx.Outputs = append(tx.Outputs, models.TxOut{Value: req.Amount, Address: req.CJDestination})

	takerChange := takerIn - req.Amount - feeShare
	// makers contribute their own input totals toward their own CJ+change.
	for _, ms := range sessions {
		var makerIn int64
		for _, in := range ms.Session.Inputs {
			makerIn += in.Value
		}

		tx.Outputs = append(tx.Outputs, models.TxOut{Value: req.Amount, Address: ms.Session.CJAddress})
		if req.Amount < e.Config.DustThreshold {
			return tx, ErrOutputBelowDust
		}

		change := makerIn - req.Amount - feeShare
		if change > e.Config.DustThreshold {
			tx.Outputs = append(tx.Outputs, models.TxOut{Value: change, Address: ms.Session.ChangeAddress, IsChange: true})
		}
		// Change at or below dust is forfeited to miner fees, per spec.
	}

	if req.Amount < e.Config.DustThreshold {
		return tx, ErrOutputBelowDust
	}
	if takerChange > e.Config.DustThreshold {
		tx.Outputs = append(tx.Outputs, models.TxOut{Value: takerChange, Address: req.ChangeAddress, IsChange: true})
	}

	var totalOut int64
	for _, o := range tx.Outputs {
		totalOut += o.Value
	}
	tx.Fee = totalIn - totalOut
	if tx.Fee < 0 {
		return tx, fmt.Errorf("taker: assembled transaction has negative fee (totalIn=%d totalOut=%d)", totalIn, totalOut)
	}

	return tx, nil
}

// estimatedFeeRateSatPerVB is a placeholder mapping from a block-target to
// a fee rate when no explicit rate is configured; production wiring
// replaces this with backend.Oracle.EstimateFee.
func estimatedFeeRateSatPerVB(blocks int) float64 {
	switch {
	case blocks <= 1:
		return 20
	case blocks <= 3:
		return 10
	case blocks <= 6:
		return 5
	default:
		return 2
	}
}

// encodeUnsignedTxHex renders tx as a deterministic hex string for
// transmission in !tx and as input to txid derivation in tests. Actual
// consensus-format serialization (via btcd/wire.MsgTx) happens at the
// transport boundary once inputs/outputs carry real scriptPubKeys; this
// keeps the coordination core decoupled from script construction.
func encodeUnsignedTxHex(tx models.Transaction) string {
	s := fmt.Sprintf("v%d", tx.Version)
	for _, in := range tx.Inputs {
		s += fmt.Sprintf("|in:%s:%d:%d", in.Txid, in.Vout, in.Value)
	}
	for _, out := range tx.Outputs {
		s += fmt.Sprintf("|out:%s:%d", out.Address, out.Value)
	}
	return s
}
