// Package backend defines the pluggable external collaborators named in
// spec.md §9 ("Dynamic dispatch"): the UTXO oracle and the bond-scoring
// function. Interfaces keep these swappable without runtime patching, per
// the design note. RPCOracle is adapted directly from the teacher's
// internal/bitcoin/client.go rpcclient wrapper.
package backend

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// UTXOInfo is what the oracle knows about one outpoint.
type UTXOInfo struct {
	ScriptPubKey string // hex
	Value        int64  // satoshis
	Height       int64  // 0 if unconfirmed/mempool
	Confirmations int64
}

// Oracle is the capability-set a UTXO-backed wallet/chain view exposes to
// the core. Not present => ErrUTXONotFound.
type Oracle interface {
	GetUTXO(ctx context.Context, txid string, vout uint32) (UTXOInfo, error)
	Broadcast(ctx context.Context, rawTxHex string) (txid string, err error)
	EstimateFee(ctx context.Context, blocks int) (satPerVB float64, err error)
	CurrentHeight(ctx context.Context) (int64, error)
}

// ErrUTXONotFound is returned by Oracle.GetUTXO when the outpoint is
// unknown to the backend (spent, never existed, or not yet indexed).
var ErrUTXONotFound = fmt.Errorf("backend: utxo not found")

// RPCOracle is an Oracle backed by a Bitcoin Core JSON-RPC connection,
// adapted from the teacher's internal/bitcoin/client.go.
type RPCOracle struct {
	RPC *rpcclient.Client
}

// NewRPCOracle wraps an already-connected rpcclient.Client.
func NewRPCOracle(client *rpcclient.Client) *RPCOracle {
	return &RPCOracle{RPC: client}
}

// GetUTXO looks up an outpoint via gettxout, which reports only currently
// unspent outputs — exactly the semantics the AUTH-phase UTXO check needs.
func (o *RPCOracle) GetUTXO(ctx context.Context, txid string, vout uint32) (UTXOInfo, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return UTXOInfo{}, fmt.Errorf("backend: bad txid %q: %w", txid, err)
	}

	result, err := o.RPC.GetTxOut(hash, vout, true)
	if err != nil {
		return UTXOInfo{}, fmt.Errorf("backend: gettxout: %w", err)
	}
	if result == nil {
		return UTXOInfo{}, ErrUTXONotFound
	}

	var height int64
	if result.Confirmations > 0 {
		best, err := o.RPC.GetBlockCount()
		if err != nil {
			return UTXOInfo{}, fmt.Errorf("backend: getblockcount: %w", err)
		}
		height = best - int64(result.Confirmations) + 1
	}

	valueSats := int64(result.Value * 1e8)
	return UTXOInfo{
		ScriptPubKey:  result.ScriptPubKey.Hex,
		Value:         valueSats,
		Height:        height,
		Confirmations: int64(result.Confirmations),
	}, nil
}

// Broadcast submits a raw transaction via sendrawtransaction.
func (o *RPCOracle) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	msgTx, err := decodeRawTxHex(rawTxHex)
	if err != nil {
		return "", fmt.Errorf("backend: decode raw tx: %w", err)
	}

	hash, err := o.RPC.SendRawTransaction(msgTx, false)
	if err != nil {
		return "", fmt.Errorf("backend: sendrawtransaction: %w", err)
	}
	return hash.String(), nil
}

// EstimateFee estimates a sat/vB fee rate for a target confirmation window
// via estimatesmartfee, which reports BTC/kvB.
func (o *RPCOracle) EstimateFee(ctx context.Context, blocks int) (float64, error) {
	if blocks < 1 {
		blocks = 1
	}
	if blocks > 1008 {
		blocks = 1008
	}

	result, err := o.RPC.EstimateSmartFee(int64(blocks), &btcjson.EstimateModeEconomical)
	if err != nil {
		return 0, fmt.Errorf("backend: estimatesmartfee: %w", err)
	}
	if result.Errors != nil && len(*result.Errors) > 0 {
		return 0, fmt.Errorf("backend: estimatesmartfee: %v", *result.Errors)
	}
	if result.FeeRate == nil {
		return 0, fmt.Errorf("backend: estimatesmartfee: no fee rate available")
	}

	// BTC/kvB -> sat/vB
	satPerVB := (*result.FeeRate) * 1e8 / 1000
	return satPerVB, nil
}

// CurrentHeight returns the current best block height.
func (o *RPCOracle) CurrentHeight(ctx context.Context) (int64, error) {
	h, err := o.RPC.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("backend: getblockcount: %w", err)
	}
	return h, nil
}
