package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Transport is one underlying connection a Channel can speak Envelopes
// over — a direct peer socket or a directory relay.
type Transport interface {
	// HostID is the anti-replay binding string for this transport: a
	// directory's onion address, or DirectOnionNetwork for direct peer
	// connections.
	HostID() string
	WriteEnvelope(Envelope) error
	ReadEnvelope() (Envelope, error)
	Close() error
}

// connTransport adapts a raw io.ReadWriteCloser (a net.Conn, typically) into
// a Transport.
type connTransport struct {
	hostID string
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewConnTransport wraps rw as a Transport bound to the given hostID.
func NewConnTransport(hostID string, rw io.ReadWriteCloser) Transport {
	return &connTransport{hostID: hostID, rw: rw, reader: bufio.NewReader(rw)}
}

func (c *connTransport) HostID() string { return c.hostID }

func (c *connTransport) WriteEnvelope(e Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := Encode(e)
	if err != nil {
		return err
	}
	_, err = c.rw.Write(b)
	return err
}

func (c *connTransport) ReadEnvelope() (Envelope, error) {
	return ReadEnvelope(c.reader)
}

func (c *connTransport) Close() error { return c.rw.Close() }

// ErrChannelInconsistency is returned when a session's messages attempt to
// traverse more than one transport.
var ErrChannelInconsistency = fmt.Errorf("wire: channel consistency violation")

// ConsistencyTracker enforces spec.md §4.2's channel-consistency invariant:
// once a session has sent/received its first encrypted message on a given
// transport, every later message for that session must use the same one.
type ConsistencyTracker struct {
	mu       sync.Mutex
	bindings map[string]string // sessionKey -> hostID
}

// NewConsistencyTracker creates an empty tracker.
func NewConsistencyTracker() *ConsistencyTracker {
	return &ConsistencyTracker{bindings: make(map[string]string)}
}

// Bind records or checks sessionKey's transport binding. The first call for
// a given sessionKey records hostID and succeeds; later calls with a
// different hostID fail with ErrChannelInconsistency.
func (ct *ConsistencyTracker) Bind(sessionKey, hostID string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	bound, ok := ct.bindings[sessionKey]
	if !ok {
		ct.bindings[sessionKey] = hostID
		return nil
	}
	if bound != hostID {
		return ErrChannelInconsistency
	}
	return nil
}

// Release forgets sessionKey's binding (call on session teardown).
func (ct *ConsistencyTracker) Release(sessionKey string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.bindings, sessionKey)
}

// ChannelSet is the set of transports (directories) a process is attached
// to. !orderbook-style broadcasts fan out across every member; incoming
// broadcasts are deduplicated via Deduplicator before reaching the
// application layer.
type ChannelSet struct {
	mu         sync.RWMutex
	transports []Transport
	dedup      *Deduplicator
}

// NewChannelSet creates an empty ChannelSet.
func NewChannelSet() *ChannelSet {
	return &ChannelSet{dedup: NewDeduplicator()}
}

// Attach adds a transport to the set.
func (cs *ChannelSet) Attach(t Transport) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.transports = append(cs.transports, t)
}

// Transports returns a snapshot of attached transports.
func (cs *ChannelSet) Transports() []Transport {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]Transport, len(cs.transports))
	copy(out, cs.transports)
	return out
}

// Broadcast writes e to every attached transport, collecting (not stopping
// on) per-transport errors.
func (cs *ChannelSet) Broadcast(e Envelope) []error {
	var errs []error
	for _, t := range cs.Transports() {
		if err := t.WriteEnvelope(e); err != nil {
			errs = append(errs, fmt.Errorf("broadcast to %s: %w", t.HostID(), err))
		}
	}
	return errs
}

// AdmitIncoming applies the multi-channel deduplication rule: the first
// arrival of (fromNick, command, firstArg) within the 30s window is
// admitted; later duplicates (from other attached directories) are dropped.
// Returns true if the message should be processed.
func (cs *ChannelSet) AdmitIncoming(fromNick, command, firstArg string) bool {
	return !cs.dedup.Seen(Fingerprint(fromNick, command, firstArg))
}
