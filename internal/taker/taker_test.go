package taker

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/rawblock/coinjoind/internal/backend"
	"github.com/rawblock/coinjoind/internal/curve"
	"github.com/rawblock/coinjoind/internal/registry"
	"github.com/rawblock/coinjoind/internal/wire"
	"github.com/rawblock/coinjoind/pkg/models"
)

// fakeMakerLink plays the maker side of the protocol in-process so the
// taker engine's phase transitions can be exercised without a real socket.
type fakeMakerLink struct {
	nick          string
	failFill      bool
	rejectFills   int // !fill attempts to answer with !reject before accepting
	takerPub      *[32]byte
	ourKeys       wire.NaClKeyPair
	queue         []fakeMsg
	makerUTXOTxid string
	makerUTXOVout uint32
	makerUTXOVal  int64
	makerCJAddr   string
	makerChgAddr  string
}

type fakeMsg struct {
	cmd  string
	args []string
}

func (f *fakeMakerLink) Nick() string { return f.nick }
func (f *fakeMakerLink) Close() error { return nil }

func (f *fakeMakerLink) Send(ctx context.Context, command string, args ...string) error {
	switch command {
	case "!fill":
		if f.failFill {
			return nil // swallow; Recv will time out
		}
		if f.rejectFills > 0 {
			f.rejectFills--
			f.queue = append(f.queue, fakeMsg{"!reject", []string{"blacklisted"}})
			return nil
		}
		var pub [32]byte
		if _, err := fmt.Sscanf(args[2], "%x", &pub); err != nil {
			return err
		}
		f.takerPub = &pub
		kp, err := wire.GenerateNaClKeyPair()
		if err != nil {
			return err
		}
		f.ourKeys = kp
		f.queue = append(f.queue, fakeMsg{"!pubkey", []string{fmt.Sprintf("%x", kp.Public[:])}})
		return nil

	case "!auth":
		plaintext, err := wire.Decrypt(args[0], f.takerPub, &f.ourKeys.Private)
		if err != nil {
			return err
		}
		if _, err := wire.ParseEncryptedPayload(string(plaintext)); err != nil {
			return err
		}
		ioauth := []string{
			fmt.Sprintf("%s:%d:%d", f.makerUTXOTxid, f.makerUTXOVout, f.makerUTXOVal),
			f.makerCJAddr, f.makerChgAddr,
		}
		respPlain := wire.BuildPayload(f.nick, "taker", "!ioauth", ioauth...)
		enc, err := wire.Encrypt([]byte(respPlain), f.takerPub, &f.ourKeys.Private)
		if err != nil {
			return err
		}
		f.queue = append(f.queue, fakeMsg{"!ioauth", []string{enc}})
		return nil

	case "!tx":
		if _, err := wire.Decrypt(args[0], f.takerPub, &f.ourKeys.Private); err != nil {
			return err
		}
		sigPlain := wire.BuildPayload(f.nick, "taker", "!sig", "deadbeefsig")
		enc, err := wire.Encrypt([]byte(sigPlain), f.takerPub, &f.ourKeys.Private)
		if err != nil {
			return err
		}
		f.queue = append(f.queue, fakeMsg{"!sig", []string{enc}})
		return nil

	case "!push":
		return nil

	default:
		return fmt.Errorf("fakeMakerLink: unhandled command %q", command)
	}
}

func (f *fakeMakerLink) Recv(ctx context.Context) (string, []string, error) {
	if len(f.queue) == 0 {
		<-ctx.Done()
		return "", nil, ctx.Err()
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	return m.cmd, m.args, nil
}

type fakeRunOracle struct {
	utxos map[string]backend.UTXOInfo
}

func (o fakeRunOracle) GetUTXO(ctx context.Context, txid string, vout uint32) (backend.UTXOInfo, error) {
	key := fmt.Sprintf("%s:%d", txid, vout)
	info, ok := o.utxos[key]
	if !ok {
		return backend.UTXOInfo{}, backend.ErrUTXONotFound
	}
	return info, nil
}
func (o fakeRunOracle) Broadcast(ctx context.Context, rawTxHex string) (string, error) { return "", nil }
func (o fakeRunOracle) EstimateFee(ctx context.Context, blocks int) (float64, error)    { return 5, nil }
func (o fakeRunOracle) CurrentHeight(ctx context.Context) (int64, error)                { return 800_000, nil }

func newTestOffer(nick string, orderID int64, fee float64) models.Offer {
	return models.Offer{
		MakerNick:  nick,
		OrderID:    orderID,
		Kind:       models.OfferRelative,
		MinSize:    0,
		MaxSize:    10_000_000,
		CJFeeValue: fee,
		ReceivedAt: time.Now(),
	}
}

func TestRunCompletesWithTwoResponsiveMakers(t *testing.T) {
	orders := registry.NewOrderBook(nil)
	orders.Submit(newTestOffer("J1alice", 1, 0.002))
	orders.Submit(newTestOffer("J1bob", 2, 0.003))

	links := map[string]*fakeMakerLink{
		"J1alice": {nick: "J1alice", makerUTXOTxid: strconv.Itoa(1), makerUTXOVout: 0, makerUTXOVal: 300_000, makerCJAddr: "bc1alice-cj", makerChgAddr: "bc1alice-chg"},
		"J1bob":   {nick: "J1bob", makerUTXOTxid: strconv.Itoa(2), makerUTXOVout: 0, makerUTXOVal: 300_000, makerCJAddr: "bc1bob-cj", makerChgAddr: "bc1bob-chg"},
	}
	oracle := fakeRunOracle{utxos: map[string]backend.UTXOInfo{
		"1:0": {Value: 300_000},
		"2:0": {Value: 300_000},
	}}

	dial := func(ctx context.Context, nick string) (MakerLink, error) {
		l, ok := links[nick]
		if !ok {
			return nil, fmt.Errorf("no fake link for %s", nick)
		}
		return l, nil
	}

	engine := NewEngine(orders, oracle, nil, dial, wire.DirectOnionNetwork)
	engine.Config.FillWindow = 200 * time.Millisecond
	engine.Sign = func(in models.SignedUTXO, tx models.Transaction) ([]byte, error) { return []byte("taker-sig"), nil }

	priv, err := curve.RandScalar()
	if err != nil {
		t.Fatalf("RandScalar: %v", err)
	}

	req := RunRequest{
		Amount:          100_000,
		N:               2,
		Algo:            registry.AlgoCheapest,
		CJDestination:   "bc1taker-cj",
		ChangeAddress:   "bc1taker-chg",
		TakerInputs:     []models.SignedUTXO{{UTXORef: models.UTXORef{Txid: "taker-in", Vout: 0}, Value: 250_000}},
		PoDLECommitPriv: priv,
	}

	outcome, err := engine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("outcome.Success = false, FailureKind=%s FailurePhase=%s", outcome.FailureKind, outcome.FailurePhase)
	}
	if len(outcome.Counterparties) != 2 {
		t.Errorf("expected 2 counterparties, got %v", outcome.Counterparties)
	}
	if outcome.Txid == "" {
		t.Error("expected a non-empty txid")
	}
}

func TestRunReplacesNonRespondingMaker(t *testing.T) {
	orders := registry.NewOrderBook(nil)
	orders.Submit(newTestOffer("J1cheap-dead", 1, 0.001)) // cheapest, will not respond
	orders.Submit(newTestOffer("J1alice", 2, 0.002))
	orders.Submit(newTestOffer("J1carol", 3, 0.004))

	links := map[string]*fakeMakerLink{
		"J1cheap-dead": {nick: "J1cheap-dead", failFill: true},
		"J1alice":      {nick: "J1alice", makerUTXOTxid: "a", makerUTXOVout: 0, makerUTXOVal: 300_000, makerCJAddr: "bc1alice-cj", makerChgAddr: "bc1alice-chg"},
		"J1carol":      {nick: "J1carol", makerUTXOTxid: "c", makerUTXOVout: 0, makerUTXOVal: 300_000, makerCJAddr: "bc1carol-cj", makerChgAddr: "bc1carol-chg"},
	}
	oracle := fakeRunOracle{utxos: map[string]backend.UTXOInfo{
		"a:0": {Value: 300_000},
		"c:0": {Value: 300_000},
	}}

	dial := func(ctx context.Context, nick string) (MakerLink, error) {
		l, ok := links[nick]
		if !ok {
			return nil, fmt.Errorf("no fake link for %s", nick)
		}
		return l, nil
	}

	engine := NewEngine(orders, oracle, nil, dial, wire.DirectOnionNetwork)
	engine.Config.FillWindow = 50 * time.Millisecond
	engine.Sign = func(in models.SignedUTXO, tx models.Transaction) ([]byte, error) { return []byte("taker-sig"), nil }

	priv, err := curve.RandScalar()
	if err != nil {
		t.Fatalf("RandScalar: %v", err)
	}

	req := RunRequest{
		Amount:          100_000,
		N:               2,
		Algo:            registry.AlgoCheapest,
		CJDestination:   "bc1taker-cj",
		ChangeAddress:   "bc1taker-chg",
		TakerInputs:     []models.SignedUTXO{{UTXORef: models.UTXORef{Txid: "taker-in", Vout: 0}, Value: 250_000}},
		PoDLECommitPriv: priv,
	}

	outcome, err := engine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("outcome.Success = false, FailureKind=%s FailurePhase=%s", outcome.FailureKind, outcome.FailurePhase)
	}
	for _, cp := range outcome.Counterparties {
		if cp == "J1cheap-dead" {
			t.Errorf("non-responding maker must not appear in the final counterparty set: %v", outcome.Counterparties)
		}
	}
	if len(outcome.Counterparties) != 2 {
		t.Errorf("expected 2 counterparties after replacement, got %v", outcome.Counterparties)
	}
}

func TestAttemptFillRetriesToNextPoDLEIndexOnReject(t *testing.T) {
	orders := registry.NewOrderBook(nil)
	link := &fakeMakerLink{nick: "J1alice", rejectFills: 1, makerUTXOTxid: "a", makerUTXOVout: 0, makerUTXOVal: 300_000, makerCJAddr: "bc1alice-cj", makerChgAddr: "bc1alice-chg"}

	dial := func(ctx context.Context, nick string) (MakerLink, error) { return link, nil }

	engine := NewEngine(orders, fakeRunOracle{}, nil, dial, wire.DirectOnionNetwork)
	engine.Config.FillWindow = 200 * time.Millisecond

	priv, err := curve.RandScalar()
	if err != nil {
		t.Fatalf("RandScalar: %v", err)
	}

	req := RunRequest{Amount: 100_000, PoDLECommitPriv: priv}
	ms, err := engine.attemptFill(context.Background(), req, newTestOffer("J1alice", 1, 0.002))
	if err != nil {
		t.Fatalf("attemptFill: %v", err)
	}
	if ms.PoDLEIndex != 1 {
		t.Errorf("PoDLEIndex = %d, want 1 after one rejection", ms.PoDLEIndex)
	}
	if ms.Session.PoDLERetryIndex != 1 {
		t.Errorf("Session.PoDLERetryIndex = %d, want 1", ms.Session.PoDLERetryIndex)
	}
}

func TestTxBuildPhaseRejectsBelowDustCJAmount(t *testing.T) {
	engine := &Engine{Config: DefaultConfig()}
	req := RunRequest{
		Amount:        1_000, // below the 27,300 sat default dust threshold
		CJDestination: "bc1taker-cj",
		ChangeAddress: "bc1taker-chg",
		TakerInputs:   []models.SignedUTXO{{UTXORef: models.UTXORef{Txid: "in", Vout: 0}, Value: 50_000}},
	}

	_, err := engine.txBuildPhase(req, nil)
	if err != ErrOutputBelowDust {
		t.Fatalf("txBuildPhase() = %v, want ErrOutputBelowDust", err)
	}
}
