// Command coinjoind runs the CoinJoin coordination core: a taker engine
// that can drive mixing runs, an optional maker engine that answers them,
// and a read-only HTTP/websocket status surface over both. Wiring follows
// the teacher's cmd/engine/main.go posture of continuing in a degraded
// mode whenever an optional external dependency (Postgres, Bitcoin Core)
// isn't reachable, rather than refusing to start.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/rawblock/coinjoind/internal/api"
	"github.com/rawblock/coinjoind/internal/backend"
	"github.com/rawblock/coinjoind/internal/config"
	"github.com/rawblock/coinjoind/internal/db"
	"github.com/rawblock/coinjoind/internal/maker"
	"github.com/rawblock/coinjoind/internal/registry"
	"github.com/rawblock/coinjoind/internal/taker"
	"github.com/rawblock/coinjoind/internal/transport"
	"github.com/rawblock/coinjoind/internal/wire"
	"github.com/rawblock/coinjoind/pkg/models"
)

func main() {
	app := cli.NewApp()
	app.Name = "coinjoind"
	app.Usage = "CoinJoin coordination core (taker + maker + status API)"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("coinjoind: %v", err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Defaults()
	if err := config.ApplyCLI(c, &cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// ─── Durable persistence (optional) ─────────────────────────────────
	var dbConn *db.PostgresStore
	if cfg.DatabaseURL != "" {
		conn, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: failed to connect to PostgreSQL, continuing with in-memory blacklist only: %v", err)
		} else {
			defer conn.Close()
			if err := conn.InitSchema(); err != nil {
				log.Printf("Warning: schema init failed: %v", err)
			}
			dbConn = conn
		}
	} else {
		log.Println("DATABASE_URL not set — running with in-memory blacklist, no coinjoin_history persistence")
	}

	var blacklist maker.Blacklist = maker.NewInMemoryBlacklist()
	if dbConn != nil {
		blacklist = dbConn
	}

	// ─── Bitcoin Core RPC oracle (optional) ─────────────────────────────
	var oracle backend.Oracle
	if cfg.BTCRPCUser != "" && cfg.BTCRPCPass != "" {
		rpc, err := rpcclient.New(&rpcclient.ConnConfig{
			Host:         cfg.BTCRPCHost,
			User:         cfg.BTCRPCUser,
			Pass:         cfg.BTCRPCPass,
			HTTPPostMode: true,
			DisableTLS:   true,
		}, nil)
		if err != nil {
			log.Printf("Warning: failed to build Bitcoin RPC client: %v", err)
		} else {
			defer rpc.Shutdown()
			oracle = backend.NewRPCOracle(rpc)
		}
	} else {
		log.Println("BTC_RPC_USER/BTC_RPC_PASS not set — running without a UTXO oracle (no taker-UTXO age/value checks, no self-broadcast)")
	}

	scorer := backend.LinearBondScorer{
		ValueLookup: func(proof *models.BondProof) int64 {
			if oracle == nil {
				return 0
			}
			txid := fmt.Sprintf("%x", proof.Txid)
			info, err := oracle.GetUTXO(context.Background(), txid, proof.Vout)
			if err != nil {
				return 0
			}
			return info.Value
		},
	}

	// ─── Identity, websocket hub, live peer/offer registries ────────────
	signingKey, err := btcec.NewPrivateKey()
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	ourNick := wire.NickFromPubKey(signingKey.PubKey().SerializeCompressed())

	wsHub := api.NewHub()
	go wsHub.Run()
	observer := &api.HubObserver{Hub: wsHub}

	peers := registry.NewPeerRegistry(observer)
	orders := registry.NewOrderBook(observer)
	orders.SetMaxOfferAge(time.Duration(cfg.MaxOfferAge) * time.Second)

	dialer := transport.NewDialer(transport.Config{
		PreferDirectConnections: cfg.PreferDirectConnections,
		TorSOCKSAddr:            cfg.TorSOCKSAddr,
		DialTimeout:             30 * time.Second,
	})

	takerDial := func(ctx context.Context, nick string) (taker.MakerLink, error) {
		peer := peers.Get(nick)
		if peer == nil {
			return nil, fmt.Errorf("coinjoind: unknown peer %q", nick)
		}
		t, err := dialer.Dial(ctx, peer.Location)
		if err != nil {
			return nil, err
		}
		return transport.NewMakerLink(ourNick, nick, signingKey, t), nil
	}

	// Signing the taker's own inputs needs a wallet collaborator that is
	// out of this core's scope, same boundary as the maker's
	// InputSelector/SignFunc below. Absent a wallet plugged in, a taker
	// run still drives FILL/AUTH/TXBUILD but fails closed in SIGN rather
	// than fabricating key material.
	noWalletErr := fmt.Errorf("coinjoind: no wallet backend configured for input signing")
	takerEngine := taker.NewEngine(orders, oracle, scorer, takerDial, ourNick)
	takerEngine.Config.BroadcastPolicy = cfg.TakerBroadcastPolicy()
	takerEngine.Config.MaxPoDLERetries = cfg.TakerUTXORetries
	takerEngine.Sign = func(input models.SignedUTXO, tx models.Transaction) ([]byte, error) {
		return nil, noWalletErr
	}

	// The maker side needs the same wallet collaborators (which of our own
	// UTXOs to fund a session with, and how to sign them). Absent a wallet
	// plugged in, the maker engine still runs and answers !fill/!auth, but
	// input selection and signing fail closed with a clear error rather
	// than fabricating key material.
	makerEngine := maker.NewEngine(ourNick, oracle, blacklist,
		func(ctx context.Context, orderID, cjAmount int64) ([]models.SignedUTXO, string, string, *models.BondProof, error) {
			return nil, "", "", nil, noWalletErr
		},
		func(input models.SignedUTXO, tx models.Transaction) ([]byte, error) {
			return nil, noWalletErr
		},
	)
	makerEngine.Config.SessionTimeoutSec = cfg.SessionTimeoutSec

	runs := api.NewRunTracker()

	launchTake := func(req taker.RunRequest) {
		if req.RunID == "" {
			req.RunID = uuid.NewString()
		}
		started := time.Now()
		runs.Start(req.RunID, req.Amount, started)
		go func() {
			outcome, err := takerEngine.Run(context.Background(), req)
			if err != nil {
				log.Printf("coinjoind: run %s failed: %v", req.RunID, err)
			}
			if outcome == nil {
				outcome = &models.CoinJoinRunOutcome{RunID: req.RunID, CJAmount: req.Amount, StartedAt: started, FinishedAt: time.Now()}
			}
			runs.Finish(req.RunID, outcome)
		}()
	}

	// ─── Periodic sweeps: stale peers, expired maker sessions ───────────
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case now := <-ticker.C:
				if stale := peers.SweepTimedOut(10*time.Minute, now); len(stale) > 0 {
					log.Printf("coinjoind: %d peers timed out: %v", len(stale), stale)
				}
				if expired := makerEngine.SweepExpired(now); len(expired) > 0 {
					log.Printf("coinjoind: %d maker sessions expired: %v", len(expired), expired)
				}
			}
		}
	}()

	r := api.SetupRouter(orders, peers, makerEngine, dbConn, runs, wsHub, launchTake)

	log.Printf("coinjoind running as %s on :%s", ourNick, cfg.HTTPPort)
	return r.Run(":" + cfg.HTTPPort)
}
