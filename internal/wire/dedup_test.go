package wire

import (
	"testing"
	"time"
)

func TestDeduplicatorDropsDuplicatesWithinWindow(t *testing.T) {
	d := NewDeduplicator()
	fp := Fingerprint("J1abc", "!reloffer", "100")

	if d.Seen(fp) {
		t.Error("first arrival must not be reported as already seen")
	}
	if !d.Seen(fp) {
		t.Error("second arrival within the window must be reported as a duplicate")
	}
}

func TestDeduplicatorExpiresAfterWindow(t *testing.T) {
	d := NewDeduplicator()
	fp := Fingerprint("J1abc", "!reloffer", "100")

	fakeNow := time.Now()
	d.nowFunc = func() time.Time { return fakeNow }

	if d.Seen(fp) {
		t.Fatal("first arrival must not be seen")
	}

	fakeNow = fakeNow.Add(DedupWindow + time.Second)
	if d.Seen(fp) {
		t.Error("fingerprint should no longer be deduplicated after the window expires")
	}
}

func TestConsistencyTrackerEnforcesSingleTransport(t *testing.T) {
	ct := NewConsistencyTracker()

	if err := ct.Bind("session-1", "directory1.onion"); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := ct.Bind("session-1", "directory1.onion"); err != nil {
		t.Errorf("repeat bind to same transport should succeed: %v", err)
	}
	if err := ct.Bind("session-1", "directory2.onion"); err != ErrChannelInconsistency {
		t.Errorf("Bind() = %v, want ErrChannelInconsistency", err)
	}
}
