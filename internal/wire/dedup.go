package wire

import (
	"sync"
	"time"
)

// DedupWindow is how long a fingerprint is remembered before it expires and
// a repeat delivery would be treated as new again.
const DedupWindow = 30 * time.Second

// Deduplicator drops duplicate deliveries of the same broadcast arriving
// over multiple attached directories within DedupWindow. Grounded on the
// teacher's per-IP token-bucket bookkeeping in internal/api/ratelimit.go:
// a map guarded by a mutex, entries carrying a lastSeen timestamp, and a
// periodic sweep that evicts stale entries.
type Deduplicator struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	window  time.Duration
	nowFunc func() time.Time
}

// NewDeduplicator creates a Deduplicator with the default 30-second window.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		seen:    make(map[string]time.Time),
		window:  DedupWindow,
		nowFunc: time.Now,
	}
}

// Fingerprint is (from_nick, command, first_arg) for broadcasts, or
// (from_nick, command) for taker-awaited responses.
func Fingerprint(fromNick, command, firstArg string) string {
	return fromNick + "\x00" + command + "\x00" + firstArg
}

// Seen reports whether fingerprint was already observed within the window.
// The first arrival returns false (and is recorded); every later arrival
// within the window returns true until the window expires.
func (d *Deduplicator) Seen(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	d.evictLocked(now)

	if last, ok := d.seen[fingerprint]; ok && now.Sub(last) <= d.window {
		return true
	}
	d.seen[fingerprint] = now
	return false
}

func (d *Deduplicator) evictLocked(now time.Time) {
	for fp, last := range d.seen {
		if now.Sub(last) > d.window {
			delete(d.seen, fp)
		}
	}
}
