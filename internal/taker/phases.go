package taker

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/coinjoind/internal/backend"
	"github.com/rawblock/coinjoind/internal/curve"
	"github.com/rawblock/coinjoind/internal/registry"
	"github.com/rawblock/coinjoind/internal/scheduler"
	"github.com/rawblock/coinjoind/internal/wire"
	"github.com/rawblock/coinjoind/pkg/models"
)

// ErrRunAborted wraps the reason a run was aborted so callers can inspect it.
type ErrRunAborted struct {
	Phase  models.RunPhase
	Reason string
}

func (e *ErrRunAborted) Error() string {
	return fmt.Sprintf("taker: run aborted in %s: %s", e.Phase, e.Reason)
}

// makerSession tracks one counterparty across the run.
type makerSession struct {
	Nick       string
	Link       MakerLink
	Session    *models.Session
	PoDLEIndex int
}

// Run drives one complete CoinJoin run through every phase. It returns the
// terminal outcome even on failure (Success=false), and a non-nil error
// describing the abort reason.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*models.CoinJoinRunOutcome, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	outcome := &models.CoinJoinRunOutcome{RunID: req.RunID, CJAmount: req.Amount, StartedAt: time.Now()}

	log.Printf("[taker] run %s starting: amount=%d n=%d", req.RunID, req.Amount, req.N)

	sessions, err := e.fillPhase(ctx, req)
	if err != nil {
		return e.abort(outcome, models.RunFill, err)
	}
	defer func() {
		for _, ms := range sessions {
			if ms.Link != nil {
				ms.Link.Close()
			}
		}
	}()

	if err := e.authPhase(ctx, req, sessions); err != nil {
		return e.abort(outcome, models.RunAuth, err)
	}

	unsignedTx, err := e.txBuildPhase(req, sessions)
	if err != nil {
		return e.abort(outcome, models.RunTxBuild, err)
	}

	signedTx, err := e.signPhase(ctx, req, sessions, unsignedTx)
	if err != nil {
		return e.abort(outcome, models.RunSign, err)
	}

	txid, err := e.broadcastPhase(ctx, sessions, signedTx)
	if err != nil {
		return e.abort(outcome, models.RunBroadcast, err)
	}

	outcome.Success = true
	outcome.Txid = txid
	outcome.FinishedAt = time.Now()
	for _, ms := range sessions {
		outcome.Counterparties = append(outcome.Counterparties, ms.Nick)
	}
	log.Printf("[taker] run %s complete: txid=%s counterparties=%v", req.RunID, txid, outcome.Counterparties)
	return outcome, nil
}

func (e *Engine) abort(outcome *models.CoinJoinRunOutcome, phase models.RunPhase, cause error) (*models.CoinJoinRunOutcome, error) {
	outcome.Success = false
	outcome.FinishedAt = time.Now()
	outcome.FailurePhase = phase.String()
	outcome.FailureKind = cause.Error()
	log.Printf("[taker] run %s aborted in %s: %v", outcome.RunID, phase, cause)
	return outcome, &ErrRunAborted{Phase: phase, Reason: cause.Error()}
}

// fillPhase runs DISCOVER + FILL: selects N makers, sends !fill to each,
// waits for !pubkey, and replaces non-responders up to
// MaxMakerReplacementAttempts times (spec.md §4.4 steps 1-2).
func (e *Engine) fillPhase(ctx context.Context, req RunRequest) ([]*makerSession, error) {
	ignored := make(map[string]bool)
	for k, v := range req.IgnoredNicks {
		ignored[k] = v
	}

	var sessions []*makerSession
	attempt := 0

	for len(sessions) < req.N {
		live := e.Orders.Live(time.Now())
		want := req.N - len(sessions)

		selReq := registry.SelectionRequest{
			Amount:       req.Amount,
			Kind:         req.OfferKind,
			MaxFeeRate:   req.MaxFeeRate,
			N:            want + 1, // Select enforces N>1; +1 keeps a spare candidate when want==1
			IgnoredNicks: ignored,
			Alpha:        req.Alpha,
			Scorer:       e.Scorer,
		}
		picked, err := registry.Select(live, req.Algo, selReq)
		if err != nil {
			return nil, fmt.Errorf("maker selection: %w", err)
		}
		if len(picked) > want {
			picked = picked[:want]
		}
		if len(picked) == 0 {
			return nil, fmt.Errorf("no eligible makers remain after %d replacement attempts", attempt)
		}

		for _, offer := range picked {
			ms, err := e.attemptFill(ctx, req, offer)
			ignored[offer.MakerNick] = true
			if err != nil {
				log.Printf("[taker] maker %s did not respond to !fill: %v", offer.MakerNick, err)
				continue
			}
			sessions = append(sessions, ms)
		}

		if len(sessions) >= req.N {
			break
		}
		attempt++
		if attempt > e.Config.MaxMakerReplacementAttempts {
			return nil, fmt.Errorf("only %d/%d makers responded after %d replacement attempts", len(sessions), req.N, attempt-1)
		}
	}

	return sessions, nil
}

// retryIndices returns the PoDLE indices this engine will offer a maker in
// turn, bounded by Config.MaxPoDLERetries (spec.md §4.1 "Retry indices").
func (e *Engine) retryIndices() []int {
	max := e.Config.MaxPoDLERetries
	if max <= 0 || max > len(curve.DefaultRetryIndices) {
		max = len(curve.DefaultRetryIndices)
	}
	return curve.DefaultRetryIndices[:max]
}

// attemptFill sends !fill to one maker, advancing through the accepted PoDLE
// retry indices whenever the maker reports the current commitment as
// blacklisted (spec.md §4.1 "Retry indices", Scenario 4).
func (e *Engine) attemptFill(ctx context.Context, req RunRequest, offer models.Offer) (*makerSession, error) {
	link, err := e.Dial(ctx, offer.MakerNick)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	keypair, err := wire.GenerateNaClKeyPair()
	if err != nil {
		link.Close()
		return nil, err
	}

	var (
		commitment []byte
		index      int
	)
	for _, idx := range e.retryIndices() {
		index = idx
		commitment, err = curve.CommitmentFor(req.PoDLECommitPriv, idx)
		if err != nil {
			link.Close()
			return nil, err
		}

		fillCtx, cancel := context.WithTimeout(ctx, e.Config.FillWindow)
		pubHex := fmt.Sprintf("%x", keypair.Public[:])
		commitHex := fmt.Sprintf("%x", commitment)
		sendErr := link.Send(fillCtx, "!fill", strconv.FormatInt(offer.OrderID, 10), strconv.FormatInt(req.Amount, 10), pubHex, commitHex)
		if sendErr != nil {
			cancel()
			link.Close()
			return nil, fmt.Errorf("send !fill: %w", sendErr)
		}

		cmd, args, recvErr := link.Recv(fillCtx)
		cancel()
		if recvErr != nil {
			link.Close()
			return nil, fmt.Errorf("recv !pubkey: %w", recvErr)
		}
		if cmd == "!reject" {
			log.Printf("[taker] maker %s rejected podle index %d: %v", offer.MakerNick, idx, args)
			continue
		}
		if cmd != "!pubkey" || len(args) < 1 {
			link.Close()
			return nil, fmt.Errorf("unexpected reply %q to !fill", cmd)
		}

		var peerPub [32]byte
		if _, err := fmt.Sscanf(args[0], "%x", &peerPub); err != nil {
			link.Close()
			return nil, fmt.Errorf("malformed maker pubkey: %w", err)
		}

		sess := &models.Session{
			CounterpartyNick: offer.MakerNick,
			OurNaClPriv:      keypair.Private,
			OurNaClPub:       keypair.Public,
			PeerNaClPub:      &peerPub,
			Phase:            models.PhaseFilled,
			CreatedAt:        time.Now(),
			PoDLERetryIndex:  idx,
			PoDLECommitment:  commitment,
			OrderID:          offer.OrderID,
		}

		return &makerSession{Nick: offer.MakerNick, Link: link, Session: sess, PoDLEIndex: idx}, nil
	}

	link.Close()
	return nil, fmt.Errorf("maker %s rejected podle commitment at every retry index up to %d", offer.MakerNick, index)
}

// authPhase runs AUTH: reveals the PoDLE proof and the taker's inputs, then
// validates each maker's !ioauth reply (spec.md §4.4 step 3). Each maker may
// have accepted a different retry index during FILL, so the reveal proof is
// derived per session rather than shared.
func (e *Engine) authPhase(ctx context.Context, req RunRequest, sessions []*makerSession) error {
	for _, ms := range sessions {
		proof, err := curve.Prove(req.PoDLECommitPriv, ms.PoDLEIndex)
		if err != nil {
			return fmt.Errorf("podle prove: %w", err)
		}
		reveal := fmt.Sprintf("%x:%x:%x:%x:%d", proof.P.Serialize(), proof.P2.Serialize(), proof.S.Bytes(), proof.E.Bytes(), proof.Index)

		args := []string{reveal, req.CJDestination, req.ChangeAddress}
		for _, in := range req.TakerInputs {
			args = append(args, fmt.Sprintf("%s:%d:%d", in.Txid, in.Vout, in.Value))
		}

		if err := e.sendEncrypted(ctx, ms, "!auth", args...); err != nil {
			return fmt.Errorf("maker %s: send !auth: %w", ms.Nick, err)
		}

		cmd, repArgs, err := e.recvEncrypted(ctx, ms)
		if err != nil {
			return fmt.Errorf("maker %s: recv !ioauth: %w", ms.Nick, err)
		}
		if cmd != "!ioauth" {
			return fmt.Errorf("maker %s: unexpected reply %q to !auth", ms.Nick, cmd)
		}
		if err := e.validateIOAuth(ctx, ms, repArgs); err != nil {
			return fmt.Errorf("maker %s: !ioauth validation failed: %w", ms.Nick, err)
		}
		ms.Session.Phase = models.PhaseAuthed
	}

	return nil
}

// validateIOAuth parses a maker's !ioauth reply and verifies every declared
// UTXO's value via the oracle. It does not parse or check a bond proof:
// every argument before the last two is read as a txid:vout:value spec.
func (e *Engine) validateIOAuth(ctx context.Context, ms *makerSession, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("malformed !ioauth: need at least utxo,cj_addr,change_addr")
	}

	utxoSpecs := args[:len(args)-2]
	ms.Session.CJAddress = args[len(args)-2]
	ms.Session.ChangeAddress = args[len(args)-1]

	var inputs []models.SignedUTXO
	for _, spec := range utxoSpecs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("malformed utxo spec %q: want txid:vout:value", spec)
		}
		txid := parts[0]
		vout64, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return fmt.Errorf("malformed utxo spec %q: vout: %w", spec, err)
		}
		vout := uint32(vout64)
		value, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return fmt.Errorf("malformed utxo spec %q: value: %w", spec, err)
		}
		if e.Oracle != nil {
			result, err := e.Sched.Suspend(ctx, scheduler.PointOracleCall, func() (interface{}, error) {
				return e.Oracle.GetUTXO(ctx, txid, vout)
			})
			if err != nil {
				return fmt.Errorf("utxo %s:%d not found: %w", txid, vout, err)
			}
			info := result.(backend.UTXOInfo)
			if info.Value != value {
				return fmt.Errorf("utxo %s:%d claimed value %d does not match oracle value %d", txid, vout, value, info.Value)
			}
		}
		inputs = append(inputs, models.SignedUTXO{UTXORef: models.UTXORef{Txid: txid, Vout: vout}, Value: value})
	}

	ms.Session.Inputs = inputs
	return nil
}

func (e *Engine) sendEncrypted(ctx context.Context, ms *makerSession, command string, args ...string) error {
	plaintext := wire.BuildPayload("taker", ms.Nick, command, args...)
	enc, err := wire.Encrypt([]byte(plaintext), ms.Session.PeerNaClPub, &ms.Session.OurNaClPriv)
	if err != nil {
		return err
	}
	return ms.Link.Send(ctx, command, enc)
}

func (e *Engine) recvEncrypted(ctx context.Context, ms *makerSession) (string, []string, error) {
	cmd, args, err := ms.Link.Recv(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(args) != 1 {
		return "", nil, fmt.Errorf("encrypted envelope must carry exactly one argument, got %d", len(args))
	}
	plaintext, err := wire.Decrypt(args[0], ms.Session.PeerNaClPub, &ms.Session.OurNaClPriv)
	if err != nil {
		return "", nil, fmt.Errorf("decrypt: %w", err)
	}
	payload, err := wire.ParseEncryptedPayload(string(plaintext))
	if err != nil {
		return "", nil, err
	}
	return payload.Command, payload.Args, nil
}

// signPhase sends the unsigned tx to every maker and collects one !sig per
// maker input, then signs the taker's own inputs locally via e.Sign
// (spec.md §4.4 step 5). txBuildPhase always places the taker's own inputs
// first, so they correspond positionally to req.TakerInputs.
func (e *Engine) signPhase(ctx context.Context, req RunRequest, sessions []*makerSession, tx models.Transaction) (models.Transaction, error) {
	rawHex := encodeUnsignedTxHex(tx)

	for _, ms := range sessions {
		if err := e.sendEncrypted(ctx, ms, "!tx", rawHex); err != nil {
			return tx, fmt.Errorf("maker %s: send !tx: %w", ms.Nick, err)
		}

		for range ms.Session.Inputs {
			cmd, args, err := e.recvEncrypted(ctx, ms)
			if err != nil {
				return tx, fmt.Errorf("maker %s: recv !sig: %w", ms.Nick, err)
			}
			if cmd != "!sig" || len(args) < 1 {
				return tx, fmt.Errorf("maker %s: unexpected reply %q to !tx", ms.Nick, cmd)
			}
			if ms.Session.Signatures == nil {
				ms.Session.Signatures = make(map[int][]byte)
			}
			ms.Session.Signatures[len(ms.Session.Signatures)] = []byte(args[0])
		}
		ms.Session.Phase = models.PhaseSigned
	}

	if e.Sign == nil {
		return tx, fmt.Errorf("taker: no wallet signer configured for the taker's own inputs")
	}
	for i, in := range req.TakerInputs {
		sig, err := e.Sign(in, tx)
		if err != nil {
			return tx, fmt.Errorf("sign own input %s:%d: %w", in.Txid, in.Vout, err)
		}
		tx.Inputs[i].ScriptSig = fmt.Sprintf("%x", sig)
	}

	return tx, nil
}

// broadcastPhase relays the final transaction per the configured policy
// (spec.md §4.4 step 6): for any peer-based policy, failure falls back to
// self unless the policy is NOT_SELF.
func (e *Engine) broadcastPhase(ctx context.Context, sessions []*makerSession, tx models.Transaction) (string, error) {
	rawHex := encodeUnsignedTxHex(tx) // placeholder: in production this carries the collected signatures merged in

	switch e.Config.BroadcastPolicy {
	case BroadcastSelf:
		return e.broadcastSelf(ctx, rawHex)
	case BroadcastRandomPeer:
		if len(sessions) == 0 {
			return "", fmt.Errorf("no makers available for RANDOM_PEER broadcast")
		}
		pick, err := rand.Int(rand.Reader, big.NewInt(int64(len(sessions))))
		if err != nil {
			return e.broadcastSelf(ctx, rawHex)
		}
		if err := sessions[pick.Int64()].Link.Send(ctx, "!push", rawHex); err == nil {
			return txidOf(tx), nil
		}
		return e.broadcastSelf(ctx, rawHex)
	case BroadcastMultiplePeers:
		fanout := e.Config.MultiplePeersFanout
		if fanout > len(sessions) {
			fanout = len(sessions)
		}
		succeeded := false
		for i := 0; i < fanout; i++ {
			if err := sessions[i].Link.Send(ctx, "!push", rawHex); err == nil {
				succeeded = true
			}
		}
		if succeeded {
			return txidOf(tx), nil
		}
		return e.broadcastSelf(ctx, rawHex)
	case BroadcastNotSelf:
		for _, ms := range sessions {
			if err := ms.Link.Send(ctx, "!push", rawHex); err == nil {
				return txidOf(tx), nil
			}
		}
		return "", fmt.Errorf("NOT_SELF broadcast: no maker accepted the push")
	default:
		return "", fmt.Errorf("unknown broadcast policy %v", e.Config.BroadcastPolicy)
	}
}

func (e *Engine) broadcastSelf(ctx context.Context, rawHex string) (string, error) {
	if e.Oracle == nil {
		return "", fmt.Errorf("self-broadcast requires an oracle")
	}
	result, err := e.Sched.Suspend(ctx, scheduler.PointBroadcast, func() (interface{}, error) {
		return e.Oracle.Broadcast(ctx, rawHex)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func txidOf(tx models.Transaction) string {
	if tx.Txid != "" {
		return tx.Txid
	}
	h := sha256.Sum256([]byte(encodeUnsignedTxHex(tx)))
	return fmt.Sprintf("%x", h)
}
