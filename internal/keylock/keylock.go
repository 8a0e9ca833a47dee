// Package keylock provides per-key mutual exclusion for serializing ledger
// mutations on one account while letting different accounts proceed fully
// in parallel.
//
// Two concurrent trades by the same account must not interleave: a lost
// update could leave cash or holdings inconsistent with the transaction
// log. Cross-account operations share no mutable state and need no
// ordering, so a single process-wide mutex would serialize far more than
// necessary.
package keylock

import "sync"

// KeyedMutex is a set of named mutexes. The zero value is not usable;
// call New.
//
// Entries are created on first use and kept for the life of the process.
// Keys are account ids, so the map is bounded by the number of registered
// accounts.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use, and returns
// the function that releases it.
//
//	unlock := locks.Lock(accountID)
//	defer unlock()
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
