package maker

import (
	"sync"
)

// Blacklist is the append-only commitment blacklist a maker consults on
// !fill and appends to after a verified !auth (spec.md §4.5,
// cmtdata/commitmentlist).
type Blacklist interface {
	Contains(commitment []byte) bool
	Add(commitment []byte) error
}

// InMemoryBlacklist is the in-process Blacklist used when no persistent
// store is configured; internal/db provides a durable one with the same
// interface.
type InMemoryBlacklist struct {
	mu  sync.Mutex
	set map[string]bool
}

// NewInMemoryBlacklist creates an empty blacklist.
func NewInMemoryBlacklist() *InMemoryBlacklist {
	return &InMemoryBlacklist{set: make(map[string]bool)}
}

func (b *InMemoryBlacklist) Contains(commitment []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.set[string(commitment)]
}

func (b *InMemoryBlacklist) Add(commitment []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set[string(commitment)] = true
	return nil
}
