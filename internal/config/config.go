// Package config implements the layered configuration store spec.md §6
// describes: CLI flags override environment variables, which override a
// TOML config file, which overrides compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/naoina/toml"
	"github.com/urfave/cli"

	"github.com/rawblock/coinjoind/internal/taker"
)

// Config is the recognized option set of spec.md §6, plus the
// transport/maker-side options this core's ambient expansion adds.
type Config struct {
	MaxOfferAge                 int     `toml:"max_offer_age"`
	CounterpartyCount            int     `toml:"counterparty_count"`
	MaxMakerReplacementAttempts  int     `toml:"max_maker_replacement_attempts"`
	SessionTimeoutSec            int     `toml:"session_timeout_sec"`
	TakerUTXOAge                 int     `toml:"taker_utxo_age"`
	TakerUTXOAmtPercent          int     `toml:"taker_utxo_amtpercent"`
	TakerUTXORetries             int     `toml:"taker_utxo_retries"`
	DustThreshold                int64   `toml:"dust_threshold"`
	MessageRateLimit             float64 `toml:"message_rate_limit"`
	MessageBurstLimit            int     `toml:"message_burst_limit"`
	BroadcastPolicy               string  `toml:"broadcast_policy"`
	PreferDirectConnections       bool    `toml:"prefer_direct_connections"`

	DatabaseURL  string `toml:"-"` // secret-bearing: CLI/env only, never written to or read from a file
	BTCRPCHost   string `toml:"btc_rpc_host"`
	BTCRPCUser   string `toml:"-"`
	BTCRPCPass   string `toml:"-"`
	TorSOCKSAddr string `toml:"tor_socks_addr"`
	HTTPPort     string `toml:"http_port"`
}

// Defaults returns the compiled-in defaults named throughout spec.md.
func Defaults() Config {
	return Config{
		MaxOfferAge:                 3600,
		CounterpartyCount:           3,
		MaxMakerReplacementAttempts: 3,
		SessionTimeoutSec:           300,
		TakerUTXOAge:                5,
		TakerUTXOAmtPercent:         20,
		TakerUTXORetries:            3,
		DustThreshold:               27_300,
		MessageRateLimit:            100,
		MessageBurstLimit:           200,
		BroadcastPolicy:             "MULTIPLE_PEERS",
		PreferDirectConnections:     false,
		BTCRPCHost:                  "localhost:8332",
		TorSOCKSAddr:                "127.0.0.1:9050",
		HTTPPort:                    "5339",
	}
}

// LoadFile decodes a TOML config file on top of Defaults(); a missing file
// is not an error — it simply leaves the defaults untouched, same as the
// teacher's "continue without" posture toward optional external state.
func LoadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays recognized environment variables onto cfg. Secrets
// (DATABASE_URL, BTC_RPC_USER, BTC_RPC_PASS) are env/CLI-only by design —
// they are never round-tripped through a TOML file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("MAX_OFFER_AGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxOfferAge = n
		}
	}
	if v := os.Getenv("COUNTERPARTY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CounterpartyCount = n
		}
	}
	if v := os.Getenv("SESSION_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTimeoutSec = n
		}
	}
	if v := os.Getenv("DUST_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DustThreshold = n
		}
	}
	if v := os.Getenv("BROADCAST_POLICY"); v != "" {
		cfg.BroadcastPolicy = v
	}
	if v := os.Getenv("PREFER_DIRECT_CONNECTIONS"); v != "" {
		cfg.PreferDirectConnections = v == "1" || v == "true"
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("BTC_RPC_HOST"); v != "" {
		cfg.BTCRPCHost = v
	}
	if v := os.Getenv("BTC_RPC_USER"); v != "" {
		cfg.BTCRPCUser = v
	}
	if v := os.Getenv("BTC_RPC_PASS"); v != "" {
		cfg.BTCRPCPass = v
	}
	if v := os.Getenv("TOR_SOCKS_ADDR"); v != "" {
		cfg.TorSOCKSAddr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTPPort = v
	}
}

// Flags is the urfave/cli flag set; its values take highest precedence.
var Flags = []cli.Flag{
	cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
	cli.IntFlag{Name: "max-offer-age", Usage: "seconds before an offer is purged on read"},
	cli.IntFlag{Name: "counterparty-count", Usage: "N, the number of makers a taker run requires"},
	cli.IntFlag{Name: "session-timeout-sec", Usage: "per-session timeout in seconds"},
	cli.Int64Flag{Name: "dust-threshold", Usage: "satoshi threshold below which change outputs are dropped"},
	cli.StringFlag{Name: "broadcast-policy", Usage: "SELF, RANDOM_PEER, MULTIPLE_PEERS, or NOT_SELF"},
	cli.BoolFlag{Name: "prefer-direct-connections", Usage: "dial peers directly instead of through Tor"},
	cli.StringFlag{Name: "btc-rpc-host", Usage: "Bitcoin Core RPC host:port"},
}

// ApplyCLI overlays the parsed CLI context onto cfg, loading the --config
// file first (if given) so CLI scalar flags still win over it.
func ApplyCLI(ctx *cli.Context, cfg *Config) error {
	if err := LoadFile(ctx.String("config"), cfg); err != nil {
		return err
	}
	ApplyEnv(cfg)

	if ctx.IsSet("max-offer-age") {
		cfg.MaxOfferAge = ctx.Int("max-offer-age")
	}
	if ctx.IsSet("counterparty-count") {
		cfg.CounterpartyCount = ctx.Int("counterparty-count")
	}
	if ctx.IsSet("session-timeout-sec") {
		cfg.SessionTimeoutSec = ctx.Int("session-timeout-sec")
	}
	if ctx.IsSet("dust-threshold") {
		cfg.DustThreshold = ctx.Int64("dust-threshold")
	}
	if ctx.IsSet("broadcast-policy") {
		cfg.BroadcastPolicy = ctx.String("broadcast-policy")
	}
	if ctx.IsSet("prefer-direct-connections") {
		cfg.PreferDirectConnections = ctx.Bool("prefer-direct-connections")
	}
	if ctx.IsSet("btc-rpc-host") {
		cfg.BTCRPCHost = ctx.String("btc-rpc-host")
	}
	return nil
}

// TakerBroadcastPolicy resolves the configured policy string to the
// taker package's typed enum, defaulting to MULTIPLE_PEERS on anything
// unrecognized (the spec's own documented default).
func (c Config) TakerBroadcastPolicy() taker.BroadcastPolicy {
	switch c.BroadcastPolicy {
	case "SELF":
		return taker.BroadcastSelf
	case "RANDOM_PEER":
		return taker.BroadcastRandomPeer
	case "NOT_SELF":
		return taker.BroadcastNotSelf
	default:
		return taker.BroadcastMultiplePeers
	}
}
