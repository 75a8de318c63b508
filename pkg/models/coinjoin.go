package models

import "time"

// HandshakeState is the lifecycle state of a Peer connection.
type HandshakeState int

const (
	HandshakePending HandshakeState = iota
	HandshakeDone
	HandshakeDisconnected
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakePending:
		return "PENDING"
	case HandshakeDone:
		return "HANDSHAKED"
	case HandshakeDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Peer is a network counterparty identified by its ephemeral nick.
type Peer struct {
	Nick        string
	SigningPub  []byte // 33-byte compressed secp256k1 pubkey
	Location    string // "host:port" onion address, or "direct"
	Features    map[string]bool
	State       HandshakeState
	LastSeen    time.Time
	DirectoryID string // which directory/transport this peer was last seen on
}

// OfferKind distinguishes relative (percentage) fee offers from absolute
// (flat satoshi) fee offers.
type OfferKind int

const (
	OfferRelative OfferKind = iota
	OfferAbsolute
)

// Offer is one maker's advertised CoinJoin liquidity.
type Offer struct {
	MakerNick         string
	OrderID           int64
	Kind              OfferKind
	MinSize           int64
	MaxSize           int64
	TxFeeContribution int64
	CJFeeValue        float64 // rational [0,1) for Relative, integer sats (as float) for Absolute
	BondProof         *BondProof
	ReceivedAt        time.Time
}

// EffectiveFee returns the fee a taker would pay this offer for a given
// CoinJoin amount, in satoshis.
func (o Offer) EffectiveFee(amount int64) int64 {
	switch o.Kind {
	case OfferAbsolute:
		return int64(o.CJFeeValue)
	default:
		return int64(o.CJFeeValue * float64(amount))
	}
}

// Brackets reports whether amount falls within [MinSize, MaxSize].
func (o Offer) Brackets(amount int64) bool {
	return amount >= o.MinSize && amount <= o.MaxSize
}

// BondProof is the fixed 252-byte fidelity-bond proof record.
type BondProof struct {
	NickSig     []byte // 72 bytes, 0xff left-padded DER
	CertSig     []byte // 72 bytes, 0xff left-padded DER
	CertPubKey  []byte // 33 bytes
	CertExpiry  uint16 // absolute difficulty-retarget period number
	UTXOPubKey  []byte // 33 bytes
	Txid        [32]byte
	Vout        uint32
	Timelock    uint32
}

// BondProofSize is the fixed wire size of a BondProof.
const BondProofSize = 72 + 72 + 33 + 2 + 33 + 32 + 4 + 4

// SessionPhase is the per-counterparty session cursor.
type SessionPhase int

const (
	PhaseIdle SessionPhase = iota
	PhaseFilled
	PhaseAuthed
	PhaseSigned
	PhaseDone
	PhaseAborted
	PhaseTimedOut
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseFilled:
		return "FILLED"
	case PhaseAuthed:
		return "AUTHED"
	case PhaseSigned:
		return "SIGNED"
	case PhaseDone:
		return "DONE"
	case PhaseAborted:
		return "ABORTED"
	case PhaseTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// RunPhase is the taker's outer run-level state machine cursor.
type RunPhase int

const (
	RunIdle RunPhase = iota
	RunDiscover
	RunFill
	RunAuth
	RunTxBuild
	RunSign
	RunBroadcast
	RunDone
	RunAborted
)

func (p RunPhase) String() string {
	switch p {
	case RunIdle:
		return "IDLE"
	case RunDiscover:
		return "DISCOVER"
	case RunFill:
		return "FILL"
	case RunAuth:
		return "AUTH"
	case RunTxBuild:
		return "TX_BUILD"
	case RunSign:
		return "SIGN"
	case RunBroadcast:
		return "BROADCAST"
	case RunDone:
		return "DONE"
	case RunAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// UTXORef is a (txid, vout) outpoint reference, legacy or extended wire form.
type UTXORef struct {
	Txid         string
	Vout         uint32
	ScriptPubKey string // hex, only populated in extended form
	Height       int64  // only populated in extended form
}

// SignedUTXO is a UTXO declared by a counterparty during AUTH, carrying its
// claimed value for oracle verification.
type SignedUTXO struct {
	UTXORef
	Value int64
}

// Session is one taker<->maker pairing within a CoinJoin run.
type Session struct {
	CounterpartyNick  string
	OurNaClPriv       [32]byte
	OurNaClPub        [32]byte
	PeerNaClPub       *[32]byte
	Phase             SessionPhase
	CreatedAt         time.Time
	PoDLERetryIndex   int
	PoDLECommitment   []byte
	Transport         string // "direct" or directory onion address — channel-consistency binding
	OrderID           int64
	Inputs            []SignedUTXO
	CJAddress         string
	ChangeAddress     string
	BondProof         *BondProof
	Signatures        map[int][]byte // per maker-input-index DER signature
	AbortReason       string
}

// Expired reports whether the session has exceeded its timeout.
func (s Session) Expired(timeoutSec int, now time.Time) bool {
	return now.Sub(s.CreatedAt) > time.Duration(timeoutSec)*time.Second
}

// CommitmentRecord tracks one PoDLE commitment's usage.
type CommitmentRecord struct {
	CommitmentHash string
	NUMSIndex      int
	UTXOOutpoint   string
	FirstUsedAt    time.Time
}

// CoinJoinRunOutcome is the terminal, persisted result of one taker run.
type CoinJoinRunOutcome struct {
	RunID        string
	Txid         string
	Success      bool
	CJAmount     int64
	Counterparties []string
	StartedAt    time.Time
	FinishedAt   time.Time
	FailureKind  string
	FailurePhase string
}
