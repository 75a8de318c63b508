package transport

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rawblock/coinjoind/internal/wire"
)

// MakerLink implements the taker package's MakerLink interface over a real
// wire.Transport: every outbound command is anti-replay signed and framed
// as a privmsg envelope, every inbound envelope is parsed back into a
// (command, args) pair.
type MakerLink struct {
	peerNick   string
	ourNick    string
	signingKey *btcec.PrivateKey
	t          wire.Transport
}

// NewMakerLink wraps an already-connected wire.Transport for one maker.
func NewMakerLink(ourNick, peerNick string, signingKey *btcec.PrivateKey, t wire.Transport) *MakerLink {
	return &MakerLink{peerNick: peerNick, ourNick: ourNick, signingKey: signingKey, t: t}
}

// Nick returns the remote maker's nick.
func (l *MakerLink) Nick() string { return l.peerNick }

// Close closes the underlying transport.
func (l *MakerLink) Close() error { return l.t.Close() }

// Send anti-replay signs command/args, builds the from!to!command payload,
// and writes it as a privmsg envelope.
func (l *MakerLink) Send(ctx context.Context, command string, args ...string) error {
	sig := wire.Sign(l.signingKey, l.t.HostID(), command, args)
	signedArgs := append(append([]string{}, args...), fmt.Sprintf("%x", sig))

	line := wire.BuildPayload(l.ourNick, l.peerNick, command, signedArgs...)
	return l.t.WriteEnvelope(wire.Envelope{Type: wire.TypePrivMsg, Line: line})
}

// Recv blocks until the transport yields the next envelope, returning its
// parsed command and arguments (with the trailing signature stripped —
// verification is the caller's responsibility once it has the peer's
// signing pubkey on hand). The payload's to-nick is not checked.
func (l *MakerLink) Recv(ctx context.Context) (string, []string, error) {
	type result struct {
		payload wire.Payload
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		e, err := l.t.ReadEnvelope()
		if err != nil {
			ch <- result{err: err}
			return
		}
		p, err := wire.ParsePayload(e.Line)
		ch <- result{payload: p, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", nil, r.err
		}
		args := r.payload.Args
		if len(args) > 0 {
			args = args[:len(args)-1] // drop the trailing anti-replay signature
		}
		return r.payload.Command, args, nil
	}
}
