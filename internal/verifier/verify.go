// Package verifier checks an unsigned CoinJoin transaction against one
// maker's local knowledge before any signature is produced (spec.md §4.6).
package verifier

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rawblock/coinjoind/pkg/models"
)

// Reason identifies exactly which of the six acceptance conditions failed,
// so callers can pattern-match instead of parsing an error string —
// consistent with the typed result structs used throughout this codebase
// (models.Session, models.CoinJoinRunOutcome) in place of ad hoc strings.
type Reason int

const (
	ReasonAccepted Reason = iota
	ReasonParseFailure
	ReasonUTXOMissing
	ReasonUTXODuplicated
	ReasonCJOutputMissing
	ReasonCJOutputValueTooLow
	ReasonCJOutputDuplicated
	ReasonChangeOutputMissing
	ReasonChangeOutputValueTooLow
	ReasonChangeOutputUnexpected
	ReasonChangeOutputDuplicated
	ReasonNoProfit
)

func (r Reason) String() string {
	switch r {
	case ReasonAccepted:
		return "ACCEPTED"
	case ReasonParseFailure:
		return "PARSE_FAILURE"
	case ReasonUTXOMissing:
		return "UTXO_MISSING"
	case ReasonUTXODuplicated:
		return "UTXO_DUPLICATED"
	case ReasonCJOutputMissing:
		return "CJ_OUTPUT_MISSING"
	case ReasonCJOutputValueTooLow:
		return "CJ_OUTPUT_VALUE_TOO_LOW"
	case ReasonCJOutputDuplicated:
		return "CJ_OUTPUT_DUPLICATED"
	case ReasonChangeOutputMissing:
		return "CHANGE_OUTPUT_MISSING"
	case ReasonChangeOutputValueTooLow:
		return "CHANGE_OUTPUT_VALUE_TOO_LOW"
	case ReasonChangeOutputUnexpected:
		return "CHANGE_OUTPUT_UNEXPECTED"
	case ReasonChangeOutputDuplicated:
		return "CHANGE_OUTPUT_DUPLICATED"
	case ReasonNoProfit:
		return "NO_PROFIT"
	default:
		return "UNKNOWN"
	}
}

// Request carries one maker's local knowledge of what the transaction
// should look like (spec.md §4.6).
type Request struct {
	MyUTXOs       []models.UTXORef
	MyTotalIn     int64
	CJAmount      int64
	TxFeeShare    int64
	RealCJFee     int64
	MyCJAddr      string
	MyChangeAddr  string
	DustThreshold int64
}

// Result is the verifier's structured verdict.
type Result struct {
	Accepted bool
	Reason   Reason
	Detail   string
}

func reject(reason Reason, detail string) Result {
	return Result{Accepted: false, Reason: reason, Detail: detail}
}

// Verify checks all six acceptance conditions against an already-parsed
// transaction. Condition 1 ("parses successfully") is the caller's
// responsibility via ParseUnsignedTxHex/VerifyHex — a models.Transaction
// reaching this function has already cleared it.
func Verify(tx models.Transaction, req Request) Result {
	// Condition 2: every declared outpoint appears exactly once in inputs.
	seen := make(map[string]int)
	for _, in := range tx.Inputs {
		seen[outpointKey(in.Txid, in.Vout)]++
	}
	for _, u := range req.MyUTXOs {
		key := outpointKey(u.Txid, u.Vout)
		switch seen[key] {
		case 0:
			return reject(ReasonUTXOMissing, fmt.Sprintf("declared utxo %s not found among tx inputs", key))
		case 1:
			// fine
		default:
			return reject(ReasonUTXODuplicated, fmt.Sprintf("declared utxo %s appears %d times", key, seen[key]))
		}
	}

	// Condition 3: exactly one output equals MyCJAddr, value >= CJAmount.
	cjCount := 0
	var cjValue int64
	for _, out := range tx.Outputs {
		if out.Address == req.MyCJAddr {
			cjCount++
			cjValue = out.Value
		}
	}
	if cjCount == 0 {
		return reject(ReasonCJOutputMissing, "no output pays the cj address")
	}
	if cjCount > 1 {
		return reject(ReasonCJOutputDuplicated, fmt.Sprintf("cj address appears %d times", cjCount))
	}
	if cjValue < req.CJAmount {
		return reject(ReasonCJOutputValueTooLow, fmt.Sprintf("cj output value %d below required %d", cjValue, req.CJAmount))
	}

	// Condition 4: expected change E = my_total_in - cj_amount - txfee_share + real_cjfee.
	expectedChange := req.MyTotalIn - req.CJAmount - req.TxFeeShare + req.RealCJFee

	changeCount := 0
	var changeValue int64
	for _, out := range tx.Outputs {
		if out.Address == req.MyChangeAddr {
			changeCount++
			changeValue = out.Value
		}
	}

	if expectedChange > req.DustThreshold {
		if changeCount == 0 {
			return reject(ReasonChangeOutputMissing, fmt.Sprintf("expected change output of >= %d not found", expectedChange))
		}
		if changeCount > 1 {
			return reject(ReasonChangeOutputDuplicated, fmt.Sprintf("change address appears %d times", changeCount))
		}
		if changeValue < expectedChange {
			return reject(ReasonChangeOutputValueTooLow, fmt.Sprintf("change output value %d below expected %d", changeValue, expectedChange))
		}
	} else {
		if changeCount != 0 {
			return reject(ReasonChangeOutputUnexpected, fmt.Sprintf("change below dust (%d) must not appear, found %d outputs", expectedChange, changeCount))
		}
	}

	// Condition 5: strict profit.
	if req.RealCJFee-req.TxFeeShare <= 0 {
		return reject(ReasonNoProfit, fmt.Sprintf("real_cjfee(%d) - txfee_share(%d) = %d, want > 0", req.RealCJFee, req.TxFeeShare, req.RealCJFee-req.TxFeeShare))
	}

	// Condition 6: cj address exactly once (already enforced above), change
	// address at most once — also already enforced above when present, and
	// the expectedChange<=dust branch enforces zero occurrences.
	if req.MyChangeAddr != "" && changeCount > 1 {
		return reject(ReasonChangeOutputDuplicated, fmt.Sprintf("change address appears %d times", changeCount))
	}

	return Result{Accepted: true, Reason: ReasonAccepted}
}

func outpointKey(txid string, vout uint32) string {
	return txid + ":" + strconv.FormatUint(uint64(vout), 10)
}

// ParseUnsignedTxHex decodes the coordination core's internal unsigned-tx
// wire format (produced by the taker's tx-assembly step) back into a
// models.Transaction. Production wiring replaces this with a full
// btcd/wire.MsgTx deserialize once real scripts are attached; this keeps
// the verifier exercisable without a signed, broadcastable transaction.
func ParseUnsignedTxHex(encoded string) (models.Transaction, error) {
	var tx models.Transaction
	parts := strings.Split(encoded, "|")
	if len(parts) == 0 {
		return tx, fmt.Errorf("verifier: empty transaction encoding")
	}

	if !strings.HasPrefix(parts[0], "v") {
		return tx, fmt.Errorf("verifier: malformed version field %q", parts[0])
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "v"))
	if err != nil {
		return tx, fmt.Errorf("verifier: malformed version field: %w", err)
	}
	tx.Version = int32(version)

	for _, field := range parts[1:] {
		switch {
		case strings.HasPrefix(field, "in:"):
			fields := strings.Split(strings.TrimPrefix(field, "in:"), ":")
			if len(fields) != 3 {
				return tx, fmt.Errorf("verifier: malformed input field %q", field)
			}
			vout, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return tx, fmt.Errorf("verifier: malformed input vout in %q: %w", field, err)
			}
			value, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return tx, fmt.Errorf("verifier: malformed input value in %q: %w", field, err)
			}
			tx.Inputs = append(tx.Inputs, models.TxIn{Txid: fields[0], Vout: uint32(vout), Value: value})

		case strings.HasPrefix(field, "out:"):
			fields := strings.Split(strings.TrimPrefix(field, "out:"), ":")
			if len(fields) != 2 {
				return tx, fmt.Errorf("verifier: malformed output field %q", field)
			}
			value, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return tx, fmt.Errorf("verifier: malformed output value in %q: %w", field, err)
			}
			tx.Outputs = append(tx.Outputs, models.TxOut{Address: fields[0], Value: value})

		default:
			return tx, fmt.Errorf("verifier: unrecognized field %q", field)
		}
	}

	return tx, nil
}

// VerifyHex parses encoded (condition 1: "the transaction parses
// successfully") and, on success, runs Verify against it.
func VerifyHex(encoded string, req Request) Result {
	tx, err := ParseUnsignedTxHex(encoded)
	if err != nil {
		return reject(ReasonParseFailure, err.Error())
	}
	return Verify(tx, req)
}
