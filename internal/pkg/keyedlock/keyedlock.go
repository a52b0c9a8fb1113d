// Package keyedlock provides a per-subscription mutex shared by the billing
// run, the lifecycle service and the proration service: at most one in-flight
// billing or lifecycle operation per subscription id, while different ids
// proceed in parallel.
package keyedlock

import "sync"

// KeyedLock serializes work per subscription id. The zero value is not
// usable; create instances with New and share one per process.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[uint]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyedLock {
	return &KeyedLock{locks: make(map[uint]*entry)}
}

// Lock blocks until the id's lock is held. Not reentrant.
func (k *KeyedLock) Lock(id uint) {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &entry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the id's lock and drops the entry once nobody waits on it.
func (k *KeyedLock) Unlock(id uint) {
	k.mu.Lock()
	e, ok := k.locks[id]
	if ok {
		e.refs--
		if e.refs <= 0 {
			delete(k.locks, id)
		}
	}
	k.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
