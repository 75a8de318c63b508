package registry

import (
	"testing"
	"time"

	"github.com/rawblock/coinjoind/pkg/models"
)

func TestPeerRegistryUpsertAndGet(t *testing.T) {
	r := NewPeerRegistry(nil)
	p := models.Peer{Nick: "J1abc", Location: "direct", State: models.HandshakePending, LastSeen: time.Now()}
	r.Upsert(p)

	got := r.Get("J1abc")
	if got == nil || got.Nick != "J1abc" {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestPeerRegistryRemove(t *testing.T) {
	r := NewPeerRegistry(nil)
	r.Upsert(models.Peer{Nick: "J1abc"})
	r.Remove("J1abc")
	if r.Get("J1abc") != nil {
		t.Error("expected peer to be removed")
	}
}

func TestPeerRegistrySweepTimedOut(t *testing.T) {
	r := NewPeerRegistry(nil)
	now := time.Now()
	r.Upsert(models.Peer{Nick: "J1old", State: models.HandshakeDone, LastSeen: now.Add(-time.Hour)})
	r.Upsert(models.Peer{Nick: "J1new", State: models.HandshakeDone, LastSeen: now})

	timedOut := r.SweepTimedOut(10*time.Minute, now)
	if len(timedOut) != 1 || timedOut[0] != "J1old" {
		t.Errorf("SweepTimedOut() = %v, want [J1old]", timedOut)
	}
	if r.Get("J1old").State != models.HandshakeDisconnected {
		t.Error("expected J1old to be marked disconnected")
	}
	if r.Get("J1new").State != models.HandshakeDone {
		t.Error("J1new should be unaffected")
	}
}
