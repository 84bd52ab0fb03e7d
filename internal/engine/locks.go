package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// orderLocks serializes work per order id while different ids proceed in parallel.
// Entries are reference counted and dropped when the last holder leaves.
type orderLocks struct {
	mu      sync.Mutex
	entries map[common.Hash]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{entries: make(map[common.Hash]*lockEntry)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (l *orderLocks) Lock(id common.Hash) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

func (l *orderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
