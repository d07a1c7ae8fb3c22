// Package lock provides per-key mutual exclusion for vault operations.
// A single service instance uses the in-process locker; deployments
// running several instances against the same store switch to the
// etcd-backed locker so no two instances interleave a read-modify-write
// on the same vault.
package lock

import (
	"context"
	"sync"
)

// Locker serializes work per key. Acquire blocks until the key is held
// and returns the release function.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is the in-process Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an in-process per-key locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Acquire locks the key. Entries are reference-counted so the map does
// not grow with every vault ever touched.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}, nil
}
