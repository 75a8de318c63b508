// Package maker implements the counterparty side of the CoinJoin protocol:
// accepting !fill/!auth/!tx from takers, enforcing PoDLE and UTXO checks,
// and producing per-input signatures once the unsigned transaction verifies.
package maker

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rawblock/coinjoind/internal/backend"
	"github.com/rawblock/coinjoind/internal/curve"
	"github.com/rawblock/coinjoind/internal/scheduler"
	"github.com/rawblock/coinjoind/internal/verifier"
	"github.com/rawblock/coinjoind/internal/wire"
	"github.com/rawblock/coinjoind/pkg/models"
)

// Config holds the maker engine's tunables, defaulted per spec.md §4.5/§6.
type Config struct {
	TakerUTXOAgeConfirms int
	TakerUTXOAmtPercent  float64 // e.g. 0.20 for 20%
	DustThreshold        int64
	SessionTimeoutSec    int
	AcceptedPoDLEIndices []int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		TakerUTXOAgeConfirms: 5,
		TakerUTXOAmtPercent:  0.20,
		DustThreshold:        27_300,
		SessionTimeoutSec:    300,
		AcceptedPoDLEIndices: curve.DefaultRetryIndices,
	}
}

// InputSelector picks which of the maker's own UTXOs fund one session,
// returning the chosen inputs, the CJ destination, change destination, and
// an optional bond proof. Wallet ownership is out of this engine's scope.
type InputSelector func(ctx context.Context, orderID int64, cjAmount int64) (inputs []models.SignedUTXO, cjAddr, changeAddr string, bond *models.BondProof, err error)

// SignFunc signs one of the maker's own inputs against the agreed
// transaction, returning a DER signature.
type SignFunc func(input models.SignedUTXO, tx models.Transaction) ([]byte, error)

// BroadcastHP2 announces a newly-used PoDLE commitment to the network
// (!hp2). Supplied by the wire layer; nil is a valid no-op for tests.
type BroadcastHP2 func(commitment []byte)

// Engine drives CoinJoin sessions as a maker.
type Engine struct {
	Nick        string
	Oracle      backend.Oracle
	Blacklist   Blacklist
	SelectInput InputSelector
	Sign        SignFunc
	OnHP2       BroadcastHP2
	Config      Config
	// Sched names the oracle-call suspension point validateTakerUTXO hits
	// (spec.md §5 "Suspension boundaries"), swappable for scheduler.Mock
	// in replay tests.
	Sched scheduler.Scheduler

	mu       sync.Mutex
	sessions map[string]*models.Session // keyed by taker nick
}

// NewEngine constructs a maker Engine with DefaultConfig and the production
// scheduler.
func NewEngine(nick string, oracle backend.Oracle, blacklist Blacklist, selector InputSelector, sign SignFunc) *Engine {
	return &Engine{
		Nick:        nick,
		Oracle:      oracle,
		Blacklist:   blacklist,
		SelectInput: selector,
		Sign:        sign,
		Config:      DefaultConfig(),
		Sched:       scheduler.NewLoop(),
		sessions:    make(map[string]*models.Session),
	}
}

var (
	// ErrCommitmentBlacklisted is returned when !fill reuses a blacklisted commitment.
	ErrCommitmentBlacklisted = fmt.Errorf("maker: podle commitment is blacklisted")
	// ErrPoDLEInvalid is returned when !auth's revealed proof fails verification.
	ErrPoDLEInvalid = fmt.Errorf("maker: podle proof invalid")
	// ErrTakerUTXOInvalid is returned when the taker's declared UTXO fails the oracle checks.
	ErrTakerUTXOInvalid = fmt.Errorf("maker: taker utxo failed validation")
	// ErrFidelityBondScript is returned when a refused sign targets a P2WSH input.
	ErrFidelityBondScript = fmt.Errorf("maker: refusing to sign a P2WSH (fidelity-bond) input")
)

// HandleFill implements spec.md §4.5 "Key obligations on !fill": reject
// blacklisted commitments, otherwise open a session with a fresh keypair.
func (e *Engine) HandleFill(takerNick string, orderID int64, amount int64, takerNaClPub [32]byte, commitment []byte) (ourPub [32]byte, err error) {
	if e.Blacklist.Contains(commitment) {
		return ourPub, ErrCommitmentBlacklisted
	}

	keypair, err := wire.GenerateNaClKeyPair()
	if err != nil {
		return ourPub, err
	}

	sess := &models.Session{
		CounterpartyNick: takerNick,
		OurNaClPriv:      keypair.Private,
		OurNaClPub:       keypair.Public,
		PeerNaClPub:      &takerNaClPub,
		Phase:            models.PhaseFilled,
		CreatedAt:        time.Now(),
		OrderID:          orderID,
		PoDLECommitment:  commitment,
	}

	e.mu.Lock()
	e.sessions[takerNick] = sess
	e.mu.Unlock()

	log.Printf("[maker] %s: session opened for order %d, amount %d", takerNick, orderID, amount)
	return keypair.Public, nil
}

// AuthResult is what HandleAuth returns to be sent back as !ioauth.
type AuthResult struct {
	Inputs       []models.SignedUTXO
	CJAddr       string
	ChangeAddr   string
	BondProof    *models.BondProof
}

// HandleAuth implements spec.md §4.5 "On !auth": verifies the PoDLE reveal,
// blacklists the commitment, validates the taker's declared UTXO against
// the oracle, and picks the maker's own inputs.
func (e *Engine) HandleAuth(ctx context.Context, takerNick string, reveal string, takerAmount int64, takerUTXOTxid string, takerUTXOVout uint32, takerUTXOValue int64) (AuthResult, error) {
	sess := e.session(takerNick)
	if sess == nil {
		return AuthResult{}, fmt.Errorf("maker: no session for %s", takerNick)
	}

	proof, err := parsePoDLEReveal(reveal)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", curve.ErrMalformed, err)
	}
	if !curve.AcceptsIndex(proof.Index, e.Config.AcceptedPoDLEIndices) {
		return AuthResult{}, fmt.Errorf("maker: podle index %d not in accepted set %v", proof.Index, e.Config.AcceptedPoDLEIndices)
	}
	if err := curve.VerifyAgainstCommitment(proof, sess.PoDLECommitment); err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", ErrPoDLEInvalid, err)
	}

	if err := e.Blacklist.Add(proof.Commitment()); err != nil {
		return AuthResult{}, fmt.Errorf("maker: blacklist append: %w", err)
	}
	if e.OnHP2 != nil {
		e.OnHP2(proof.Commitment())
	}

	if err := e.validateTakerUTXO(ctx, takerUTXOTxid, takerUTXOVout, takerUTXOValue, takerAmount); err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", ErrTakerUTXOInvalid, err)
	}

	inputs, cjAddr, changeAddr, bond, err := e.SelectInput(ctx, sess.OrderID, takerAmount)
	if err != nil {
		return AuthResult{}, fmt.Errorf("maker: input selection: %w", err)
	}

	sess.Inputs = inputs
	sess.CJAddress = cjAddr
	sess.ChangeAddress = changeAddr
	sess.BondProof = bond
	sess.Phase = models.PhaseAuthed

	return AuthResult{Inputs: inputs, CJAddr: cjAddr, ChangeAddr: changeAddr, BondProof: bond}, nil
}

func (e *Engine) validateTakerUTXO(ctx context.Context, txid string, vout uint32, claimedValue, cjAmount int64) error {
	if e.Oracle == nil {
		return nil
	}
	result, err := e.Sched.Suspend(ctx, scheduler.PointOracleCall, func() (interface{}, error) {
		return e.Oracle.GetUTXO(ctx, txid, vout)
	})
	if err != nil {
		return fmt.Errorf("utxo %s:%d not found: %w", txid, vout, err)
	}
	info := result.(backend.UTXOInfo)
	if info.Confirmations < int64(e.Config.TakerUTXOAgeConfirms) {
		return fmt.Errorf("utxo %s:%d has %d confirmations, need >= %d", txid, vout, info.Confirmations, e.Config.TakerUTXOAgeConfirms)
	}
	minValue := int64(float64(cjAmount) * e.Config.TakerUTXOAmtPercent)
	if claimedValue < minValue {
		return fmt.Errorf("utxo %s:%d value %d below %.0f%% of cj amount (%d)", txid, vout, claimedValue, e.Config.TakerUTXOAmtPercent*100, minValue)
	}
	return nil
}

// HandleTx implements spec.md §4.5 "On !tx": verifies the unsigned
// transaction via C6, refuses to sign P2WSH inputs, and signs every
// remaining maker input.
func (e *Engine) HandleTx(takerNick string, rawTxHex string, cjAmount, txFeeShare, realCJFee int64) ([][]byte, error) {
	sess := e.session(takerNick)
	if sess == nil {
		return nil, fmt.Errorf("maker: no session for %s", takerNick)
	}

	var myUTXOs []models.UTXORef
	var myTotalIn int64
	for _, in := range sess.Inputs {
		myUTXOs = append(myUTXOs, in.UTXORef)
		myTotalIn += in.Value
	}

	req := verifier.Request{
		MyUTXOs:       myUTXOs,
		MyTotalIn:     myTotalIn,
		CJAmount:      cjAmount,
		TxFeeShare:    txFeeShare,
		RealCJFee:     realCJFee,
		MyCJAddr:      sess.CJAddress,
		MyChangeAddr:  sess.ChangeAddress,
		DustThreshold: e.Config.DustThreshold,
	}

	result := verifier.VerifyHex(rawTxHex, req)
	if !result.Accepted {
		return nil, fmt.Errorf("maker: unsigned tx rejected (%s): %s", result.Reason, result.Detail)
	}

	tx, err := verifier.ParseUnsignedTxHex(rawTxHex)
	if err != nil {
		return nil, fmt.Errorf("maker: reparse for signing: %w", err)
	}

	var sigs [][]byte
	for _, in := range sess.Inputs {
		if isP2WSH(in.ScriptPubKey) {
			return nil, ErrFidelityBondScript
		}
		sig, err := e.Sign(in, tx)
		if err != nil {
			return nil, fmt.Errorf("sign input %s:%d: %w", in.Txid, in.Vout, err)
		}
		sigs = append(sigs, sig)
	}

	sess.Phase = models.PhaseSigned
	return sigs, nil
}

func (e *Engine) session(takerNick string) *models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[takerNick]
}

// SessionSummary is a safe-to-expose snapshot of one in-progress session —
// it omits the NaCl key material models.Session carries.
type SessionSummary struct {
	TakerNick string
	Phase     models.SessionPhase
	OrderID   int64
	CreatedAt time.Time
}

// Sessions returns a snapshot of all sessions currently open on this engine,
// for the control surface's status endpoints.
func (e *Engine) Sessions() []SessionSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SessionSummary, 0, len(e.sessions))
	for nick, sess := range e.sessions {
		out = append(out, SessionSummary{
			TakerNick: nick,
			Phase:     sess.Phase,
			OrderID:   sess.OrderID,
			CreatedAt: sess.CreatedAt,
		})
	}
	return out
}

// SweepExpired aborts any session older than SessionTimeoutSec (spec.md §5
// "Cancellation and timeouts").
func (e *Engine) SweepExpired(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []string
	for nick, sess := range e.sessions {
		if sess.Expired(e.Config.SessionTimeoutSec, now) {
			sess.Phase = models.PhaseTimedOut
			expired = append(expired, nick)
		}
	}
	return expired
}

// isP2WSH reports whether a hex-encoded scriptPubKey is a P2WSH output
// (OP_0 <32-byte hash>, i.e. 0x0020 followed by 32 bytes): fidelity-bond
// UTXOs must never be spent in a CoinJoin (spec.md §4.5).
func isP2WSH(scriptPubKeyHex string) bool {
	raw, err := hex.DecodeString(scriptPubKeyHex)
	if err != nil {
		return false
	}
	return len(raw) == 34 && raw[0] == 0x00 && raw[1] == 0x20
}

// parsePoDLEReveal decodes the "P:P2:S:E:Index" reveal format the taker
// sends in !auth (hex-encoded point serializations and scalar bytes,
// colon-separated).
func parsePoDLEReveal(reveal string) (curve.Proof, error) {
	fields := strings.Split(reveal, ":")
	if len(fields) != 5 {
		return curve.Proof{}, fmt.Errorf("expected 5 colon-separated fields, got %d", len(fields))
	}

	pBytes, err := hex.DecodeString(fields[0])
	if err != nil {
		return curve.Proof{}, fmt.Errorf("P: %w", err)
	}
	p, err := curve.ParsePoint(pBytes)
	if err != nil {
		return curve.Proof{}, fmt.Errorf("P: %w", err)
	}

	p2Bytes, err := hex.DecodeString(fields[1])
	if err != nil {
		return curve.Proof{}, fmt.Errorf("P2: %w", err)
	}
	p2, err := curve.ParsePoint(p2Bytes)
	if err != nil {
		return curve.Proof{}, fmt.Errorf("P2: %w", err)
	}

	sBytes, err := hex.DecodeString(fields[2])
	if err != nil {
		return curve.Proof{}, fmt.Errorf("s: %w", err)
	}
	eBytes, err := hex.DecodeString(fields[3])
	if err != nil {
		return curve.Proof{}, fmt.Errorf("e: %w", err)
	}

	index, err := strconv.Atoi(fields[4])
	if err != nil {
		return curve.Proof{}, fmt.Errorf("index: %w", err)
	}

	return curve.Proof{
		P:     p,
		P2:    p2,
		S:     new(big.Int).SetBytes(sBytes),
		E:     new(big.Int).SetBytes(eBytes),
		Index: index,
	}, nil
}

