// Package taker drives the five-phase CoinJoin protocol from the
// amount-owning side: it discovers makers, fills orders, authenticates,
// assembles the unsigned transaction, collects signatures and broadcasts.
package taker

import (
	"context"
	"math/big"
	"time"

	"github.com/rawblock/coinjoind/internal/backend"
	"github.com/rawblock/coinjoind/internal/registry"
	"github.com/rawblock/coinjoind/internal/scheduler"
	"github.com/rawblock/coinjoind/pkg/models"
)

// BroadcastPolicy selects who relays the final signed transaction
// (spec.md §4.4 step 6).
type BroadcastPolicy int

const (
	BroadcastSelf BroadcastPolicy = iota
	BroadcastRandomPeer
	BroadcastMultiplePeers
	BroadcastNotSelf
)

func (p BroadcastPolicy) String() string {
	switch p {
	case BroadcastSelf:
		return "SELF"
	case BroadcastRandomPeer:
		return "RANDOM_PEER"
	case BroadcastMultiplePeers:
		return "MULTIPLE_PEERS"
	case BroadcastNotSelf:
		return "NOT_SELF"
	default:
		return "UNKNOWN"
	}
}

// Config holds the taker engine's tunables, defaulted per spec.md §6.
type Config struct {
	SessionTimeoutSec           int
	MaxMakerReplacementAttempts int
	FillWindow                  time.Duration
	DustThreshold               int64
	FeeRateSatPerVB             float64 // explicit fee rate; 0 means use FeeEstimateBlocks
	FeeEstimateBlocks           int
	BroadcastPolicy             BroadcastPolicy
	MultiplePeersFanout         int
	// MaxPoDLERetries bounds how many of curve.DefaultRetryIndices a single
	// !fill attempt will work through before giving up on a maker
	// (spec.md §4.1 "Retry indices").
	MaxPoDLERetries int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeoutSec:           300,
		MaxMakerReplacementAttempts: 3,
		FillWindow:                  30 * time.Second,
		DustThreshold:               27_300,
		FeeEstimateBlocks:           3,
		BroadcastPolicy:             BroadcastMultiplePeers,
		MultiplePeersFanout:         3,
		MaxPoDLERetries:             3,
	}
}

// MakerLink is the taker's view of one maker connection. Wire framing,
// encryption and anti-replay signing live behind it so the run state
// machine never touches transport details directly — the same narrow
// collaborator-interface pattern the teacher uses for *bitcoin.Client.
type MakerLink interface {
	Nick() string
	Send(ctx context.Context, command string, args ...string) error
	Recv(ctx context.Context) (command string, args []string, err error)
	Close() error
}

// Dialer opens a MakerLink to a specific maker nick.
type Dialer func(ctx context.Context, nick string) (MakerLink, error)

// Engine drives CoinJoin runs as a taker.
type Engine struct {
	Orders *registry.OrderBook
	Oracle backend.Oracle
	Scorer backend.BondScorer
	Dial   Dialer
	Config Config
	HostID string // anti-replay binding, spec.md §4.2
	// Sched names every oracle/broadcast suspension point this engine
	// hits (spec.md §5 "Suspension boundaries"), so a replay test can
	// substitute scheduler.Mock and assert the exact order they occur in.
	Sched scheduler.Scheduler
	// Sign signs the taker's own transaction inputs during signPhase.
	// Left nil, a run fails closed in SIGN rather than broadcasting an
	// unsigned input — the wallet backing it is out of this engine's
	// scope, same boundary as the maker's InputSelector/SignFunc.
	Sign SignFunc
}

// NewEngine builds an Engine with DefaultConfig and the production scheduler.
func NewEngine(orders *registry.OrderBook, oracle backend.Oracle, scorer backend.BondScorer, dial Dialer, hostID string) *Engine {
	return &Engine{Orders: orders, Oracle: oracle, Scorer: scorer, Dial: dial, Config: DefaultConfig(), HostID: hostID, Sched: scheduler.NewLoop()}
}

// RunRequest is one CoinJoin run's parameters (spec.md §4.4).
type RunRequest struct {
	RunID         string
	Amount        int64
	N             int
	Algo          registry.Algorithm
	MaxFeeRate    float64
	Alpha         float64
	CJDestination string
	ChangeAddress string
	// OfferKind restricts maker selection to offers of this fee kind
	// (models.OfferRelative, the zero value, or models.OfferAbsolute).
	// A run only ever mixes one kind at a time.
	OfferKind   models.OfferKind
	TakerInputs []models.SignedUTXO
	// PoDLECommitPriv is the private key of the taker UTXO used to derive
	// the PoDLE commitment sent to makers (spec.md §4.1). A single
	// commitment key is reused across every maker in the run, with the
	// NUMS index advancing on retry.
	PoDLECommitPriv *big.Int
	// IgnoredNicks carries the operator's own maker nick and any makers
	// already rejected this run.
	IgnoredNicks map[string]bool
}

// SignFunc signs one of the taker's own transaction inputs, returning a
// DER signature. Supplied by the caller's wallet — out of this engine's
// scope, same as the UTXO oracle.
type SignFunc func(input models.SignedUTXO, unsignedTx models.Transaction) ([]byte, error)

// BroadcastFunc relays the final raw transaction through one channel
// (self, or a specific maker's link).
type BroadcastFunc func(ctx context.Context, rawTxHex string) error
