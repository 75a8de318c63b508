package verifier

import (
	"testing"

	"github.com/rawblock/coinjoind/pkg/models"
)

func baseTx() models.Transaction {
	return models.Transaction{
		Version: 2,
		Inputs: []models.TxIn{
			{Txid: "utxo1", Vout: 0, Value: 500_000},
		},
		Outputs: []models.TxOut{
			{Address: "cj-addr", Value: 100_000},
			{Address: "change-addr", Value: 398_000},
		},
	}
}

func baseReq() Request {
	return Request{
		MyUTXOs:       []models.UTXORef{{Txid: "utxo1", Vout: 0}},
		MyTotalIn:     500_000,
		CJAmount:      100_000,
		TxFeeShare:    1_000,
		RealCJFee:     1_500,
		MyCJAddr:      "cj-addr",
		MyChangeAddr:  "change-addr",
		DustThreshold: 27_300,
	}
}

func TestVerifyAcceptsWellFormedTransaction(t *testing.T) {
	tx := baseTx()
	req := baseReq()
	// expectedChange = 500000 - 100000 - 1000 + 1500 = 400500
	tx.Outputs[1].Value = 400_500

	res := Verify(tx, req)
	if !res.Accepted {
		t.Fatalf("Verify() rejected a well-formed tx: %s (%s)", res.Reason, res.Detail)
	}
}

func TestVerifyRejectsMissingUTXO(t *testing.T) {
	tx := baseTx()
	tx.Inputs = nil
	res := Verify(tx, baseReq())
	if res.Accepted || res.Reason != ReasonUTXOMissing {
		t.Fatalf("Verify() = %+v, want ReasonUTXOMissing", res)
	}
}

func TestVerifyRejectsDuplicatedUTXO(t *testing.T) {
	tx := baseTx()
	tx.Inputs = append(tx.Inputs, models.TxIn{Txid: "utxo1", Vout: 0, Value: 500_000})
	res := Verify(tx, baseReq())
	if res.Accepted || res.Reason != ReasonUTXODuplicated {
		t.Fatalf("Verify() = %+v, want ReasonUTXODuplicated", res)
	}
}

func TestVerifyRejectsMissingCJOutput(t *testing.T) {
	tx := baseTx()
	tx.Outputs[0].Address = "someone-else"
	res := Verify(tx, baseReq())
	if res.Accepted || res.Reason != ReasonCJOutputMissing {
		t.Fatalf("Verify() = %+v, want ReasonCJOutputMissing", res)
	}
}

func TestVerifyRejectsUndervaluedCJOutput(t *testing.T) {
	tx := baseTx()
	tx.Outputs[0].Value = 99_999
	res := Verify(tx, baseReq())
	if res.Accepted || res.Reason != ReasonCJOutputValueTooLow {
		t.Fatalf("Verify() = %+v, want ReasonCJOutputValueTooLow", res)
	}
}

func TestVerifyRejectsDuplicatedCJOutput(t *testing.T) {
	tx := baseTx()
	tx.Outputs = append(tx.Outputs, models.TxOut{Address: "cj-addr", Value: 100_000})
	res := Verify(tx, baseReq())
	if res.Accepted || res.Reason != ReasonCJOutputDuplicated {
		t.Fatalf("Verify() = %+v, want ReasonCJOutputDuplicated", res)
	}
}

func TestVerifyRejectsMissingChangeWhenAboveDust(t *testing.T) {
	tx := baseTx()
	tx.Outputs[1].Address = "not-change"
	res := Verify(tx, baseReq())
	if res.Accepted || res.Reason != ReasonChangeOutputMissing {
		t.Fatalf("Verify() = %+v, want ReasonChangeOutputMissing", res)
	}
}

func TestVerifyRejectsUndervaluedChange(t *testing.T) {
	tx := baseTx()
	tx.Outputs[1].Value = 1_000 // expected change is 400500
	res := Verify(tx, baseReq())
	if res.Accepted || res.Reason != ReasonChangeOutputValueTooLow {
		t.Fatalf("Verify() = %+v, want ReasonChangeOutputValueTooLow", res)
	}
}

func TestVerifyRejectsChangeOutputBelowDustThatShouldNotExist(t *testing.T) {
	req := baseReq()
	req.MyTotalIn = 101_000 // expectedChange = 101000-100000-1000+1500 = 1500, below dust
	tx := models.Transaction{
		Inputs:  []models.TxIn{{Txid: "utxo1", Vout: 0, Value: 101_000}},
		Outputs: []models.TxOut{{Address: "cj-addr", Value: 100_000}, {Address: "change-addr", Value: 1_500}},
	}
	res := Verify(tx, req)
	if res.Accepted || res.Reason != ReasonChangeOutputUnexpected {
		t.Fatalf("Verify() = %+v, want ReasonChangeOutputUnexpected", res)
	}
}

func TestVerifyRejectsNoProfit(t *testing.T) {
	tx := baseTx()
	tx.Outputs[1].Value = 400_500
	req := baseReq()
	req.RealCJFee = 1_000 // equal to txfee_share: profit is 0, not strictly positive
	res := Verify(tx, req)
	if res.Accepted || res.Reason != ReasonNoProfit {
		t.Fatalf("Verify() = %+v, want ReasonNoProfit", res)
	}
}

func TestVerifyHexRejectsUnparsableTransaction(t *testing.T) {
	res := VerifyHex("not-a-valid-encoding-at-all", baseReq())
	if res.Accepted || res.Reason != ReasonParseFailure {
		t.Fatalf("VerifyHex() = %+v, want ReasonParseFailure", res)
	}
}

func TestParseUnsignedTxHexRoundTrip(t *testing.T) {
	encoded := "v2|in:utxo1:0:500000|out:cj-addr:100000|out:change-addr:400500"
	tx, err := ParseUnsignedTxHex(encoded)
	if err != nil {
		t.Fatalf("ParseUnsignedTxHex: %v", err)
	}
	if tx.Version != 2 || len(tx.Inputs) != 1 || len(tx.Outputs) != 2 {
		t.Fatalf("parsed tx mismatch: %+v", tx)
	}
	if tx.Inputs[0].Value != 500_000 || tx.Outputs[1].Value != 400_500 {
		t.Fatalf("parsed values mismatch: %+v", tx)
	}
}
