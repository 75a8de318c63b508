package registry

import (
	"sync"
	"time"

	"github.com/rawblock/coinjoind/pkg/models"
)

// DefaultMaxOfferAge is the default staleness cutoff (spec.md §4.3).
const DefaultMaxOfferAge = 3600 * time.Second

type offerKey struct {
	nick    string
	orderID int64
}

// OrderBook tracks offers keyed by (maker_nick, order_id). Only one offer
// per key may exist at a time; late duplicates replace earlier ones only
// when strictly newer (spec.md Invariants).
type OrderBook struct {
	mu         sync.RWMutex
	offers     map[offerKey]models.Offer
	maxOfferAge time.Duration
	observer   Observer
}

// NewOrderBook creates an empty order book with the default max offer age.
func NewOrderBook(observer Observer) *OrderBook {
	return &OrderBook{
		offers:      make(map[offerKey]models.Offer),
		maxOfferAge: DefaultMaxOfferAge,
		observer:    observer,
	}
}

// SetMaxOfferAge overrides the staleness cutoff (configuration-driven).
func (b *OrderBook) SetMaxOfferAge(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxOfferAge = d
}

// Submit records a broadcast offer, replacing any existing offer for the
// same (nick, order_id) only if strictly newer.
func (b *OrderBook) Submit(o models.Offer) bool {
	key := offerKey{nick: o.MakerNick, orderID: o.OrderID}

	b.mu.Lock()
	existing, exists := b.offers[key]
	if exists && !o.ReceivedAt.After(existing.ReceivedAt) {
		b.mu.Unlock()
		return false
	}
	b.offers[key] = o
	b.mu.Unlock()

	if b.observer != nil {
		b.observer.OnOfferUpdated(o)
	}
	return true
}

// Remove deletes a single offer.
func (b *OrderBook) Remove(nick string, orderID int64) {
	b.mu.Lock()
	delete(b.offers, offerKey{nick: nick, orderID: orderID})
	b.mu.Unlock()
}

// RemoveAllForNick deletes every offer from a given maker (disconnect).
func (b *OrderBook) RemoveAllForNick(nick string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.offers {
		if k.nick == nick {
			delete(b.offers, k)
		}
	}
}

// Live returns every non-stale offer, per the maxOfferAge cutoff. Stale
// offers are purged from the underlying store as a side effect of the read,
// matching spec.md's "purged on read" wording.
func (b *OrderBook) Live(now time.Time) []models.Offer {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Offer, 0, len(b.offers))
	for k, o := range b.offers {
		if now.Sub(o.ReceivedAt) > b.maxOfferAge {
			delete(b.offers, k)
			continue
		}
		out = append(out, o)
	}
	return out
}

// Count returns the number of live (not-yet-purged) offers, without purging.
func (b *OrderBook) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.offers)
}
