package state

import (
	"fmt"
	"sync"
)

// keyLock serializes mutations per (strategy, market). Locks are created on
// first use and never reclaimed; the key space is bounded by the number of
// strategies times subscribed markets.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLock) get(strategy string, marketID int64) *sync.Mutex {
	key := fmt.Sprintf("%s|%d", strategy, marketID)
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}
