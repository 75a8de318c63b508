// Package registry maintains the live peer table and orderbook, and
// implements maker-selection for the taker, per spec.md §4.3. Grounded on
// the teacher's internal/heuristics/investigation.go InvestigationManager:
// a mutex-guarded map with nick-keyed CRUD methods.
package registry

import (
	"sync"
	"time"

	"github.com/rawblock/coinjoind/pkg/models"
)

// Observer receives registry mutation events, used by the ambient websocket
// hub to publish peer/offer lifecycle changes to dashboard clients.
type Observer interface {
	OnPeerUpdated(p models.Peer)
	OnPeerRemoved(nick string)
	OnOfferUpdated(o models.Offer)
}

// PeerRegistry owns the arena of live Peer records, keyed by nick.
type PeerRegistry struct {
	mu       sync.RWMutex
	peers    map[string]*models.Peer
	observer Observer
}

// NewPeerRegistry creates an empty registry. observer may be nil.
func NewPeerRegistry(observer Observer) *PeerRegistry {
	return &PeerRegistry{
		peers:    make(map[string]*models.Peer),
		observer: observer,
	}
}

// Upsert creates or updates a peer record on handshake.
func (r *PeerRegistry) Upsert(p models.Peer) {
	r.mu.Lock()
	cp := p
	r.peers[p.Nick] = &cp
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.OnPeerUpdated(cp)
	}
}

// Get returns the peer for nick, or nil if unknown.
func (r *PeerRegistry) Get(nick string) *models.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[nick]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// SetState updates a peer's handshake state (and last-seen timestamp for
// non-disconnect transitions).
func (r *PeerRegistry) SetState(nick string, state models.HandshakeState, now time.Time) {
	r.mu.Lock()
	p, ok := r.peers[nick]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.State = state
	if state != models.HandshakeDisconnected {
		p.LastSeen = now
	}
	cp := *p
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.OnPeerUpdated(cp)
	}
}

// Remove destroys a peer record (disconnect or timeout).
func (r *PeerRegistry) Remove(nick string) {
	r.mu.Lock()
	delete(r.peers, nick)
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.OnPeerRemoved(nick)
	}
}

// List returns a snapshot of all known peers.
func (r *PeerRegistry) List() []models.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// SweepTimedOut marks every peer whose LastSeen is older than maxAge as
// DISCONNECTED, returning the nicks affected.
func (r *PeerRegistry) SweepTimedOut(maxAge time.Duration, now time.Time) []string {
	r.mu.Lock()
	var timedOut []string
	for nick, p := range r.peers {
		if p.State != models.HandshakeDisconnected && now.Sub(p.LastSeen) > maxAge {
			p.State = models.HandshakeDisconnected
			timedOut = append(timedOut, nick)
		}
	}
	r.mu.Unlock()
	return timedOut
}
