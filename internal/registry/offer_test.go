package registry

import (
	"testing"
	"time"

	"github.com/rawblock/coinjoind/pkg/models"
)

func TestOrderBookKeepsOneOfferPerKey(t *testing.T) {
	b := NewOrderBook(nil)
	now := time.Now()

	b.Submit(models.Offer{MakerNick: "J1a", OrderID: 1, MinSize: 0, MaxSize: 1_000_000, ReceivedAt: now})
	b.Submit(models.Offer{MakerNick: "J1a", OrderID: 1, MinSize: 0, MaxSize: 2_000_000, ReceivedAt: now.Add(time.Second)})

	live := b.Live(now.Add(2 * time.Second))
	if len(live) != 1 {
		t.Fatalf("expected exactly 1 offer for (J1a,1), got %d", len(live))
	}
	if live[0].MaxSize != 2_000_000 {
		t.Errorf("expected the newer offer to have replaced the older one, got MaxSize=%d", live[0].MaxSize)
	}
}

func TestOrderBookRejectsStaleDuplicate(t *testing.T) {
	b := NewOrderBook(nil)
	now := time.Now()

	b.Submit(models.Offer{MakerNick: "J1a", OrderID: 1, MaxSize: 2_000_000, ReceivedAt: now})
	replaced := b.Submit(models.Offer{MakerNick: "J1a", OrderID: 1, MaxSize: 1_000_000, ReceivedAt: now.Add(-time.Second)})
	if replaced {
		t.Error("an older duplicate must not replace a newer offer")
	}
}

func TestOrderBookPurgesStaleOffersOnRead(t *testing.T) {
	b := NewOrderBook(nil)
	b.SetMaxOfferAge(time.Minute)
	now := time.Now()

	b.Submit(models.Offer{MakerNick: "J1a", OrderID: 1, MaxSize: 1, ReceivedAt: now.Add(-2 * time.Minute)})
	b.Submit(models.Offer{MakerNick: "J1b", OrderID: 2, MaxSize: 1, ReceivedAt: now})

	live := b.Live(now)
	if len(live) != 1 || live[0].MakerNick != "J1b" {
		t.Fatalf("expected only J1b's offer to survive, got %+v", live)
	}
	if b.Count() != 1 {
		t.Errorf("stale offer should have been purged from the store, Count()=%d", b.Count())
	}
}
