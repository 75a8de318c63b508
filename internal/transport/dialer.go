// Package transport supplies the concrete Tor/direct dialers the wire
// layer's channels run over (spec.md §6 names Tor socket management as an
// external collaborator; this is the one concrete implementation of it).
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/rawblock/coinjoind/internal/wire"
)

// Config selects how outbound connections to peers/directories are made.
type Config struct {
	PreferDirectConnections bool
	TorSOCKSAddr            string // e.g. "127.0.0.1:9050"
	DialTimeout             time.Duration
}

// DefaultConfig mirrors JoinMarket's usual local Tor daemon setup.
func DefaultConfig() Config {
	return Config{
		PreferDirectConnections: false,
		TorSOCKSAddr:            "127.0.0.1:9050",
		DialTimeout:             30 * time.Second,
	}
}

// Dialer opens wire.Transports to peer/directory locations.
type Dialer struct {
	Config Config
}

// NewDialer builds a Dialer from cfg.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{Config: cfg}
}

// Dial connects to location, which is either "direct" (host:port, dialed
// with a plain net.Dialer) or a .onion address (dialed through the
// configured Tor SOCKS5 proxy), and returns a wire.Transport bound to the
// hostid anti-replay signing uses.
func (d *Dialer) Dial(ctx context.Context, location string) (wire.Transport, error) {
	if location == "" {
		return nil, fmt.Errorf("transport: empty location")
	}

	if d.Config.PreferDirectConnections || !isOnionAddress(location) {
		conn, err := (&net.Dialer{Timeout: d.Config.DialTimeout}).DialContext(ctx, "tcp", location)
		if err != nil {
			return nil, fmt.Errorf("transport: direct dial %s: %w", location, err)
		}
		return wire.NewConnTransport(wire.DirectOnionNetwork, conn), nil
	}

	dialer, err := proxy.SOCKS5("tcp", d.Config.TorSOCKSAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("transport: build socks5 dialer: %w", err)
	}

	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("transport: socks5 dialer does not support context dialing")
	}
	conn, err := contextDialer.DialContext(ctx, "tcp", location)
	if err != nil {
		return nil, fmt.Errorf("transport: tor dial %s: %w", location, err)
	}
	return wire.NewConnTransport(location, conn), nil
}

// isOnionAddress reports whether location looks like a Tor hidden-service
// address rather than a plain "host:port" direct location.
func isOnionAddress(location string) bool {
	host, _, err := net.SplitHostPort(location)
	if err != nil {
		host = location
	}
	return len(host) > 6 && host[len(host)-6:] == ".onion"
}
