package scheduler

import (
	"slices"
	"sync"
)

// KeyedLocker provides per-key mutual exclusion, so read-modify-write cycles
// on one task serialize while different tasks proceed in parallel.
// Entries are reference counted and dropped once no goroutine holds or waits on them.
type KeyedLocker struct {
	mu      sync.Mutex // Guards entries
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int // Holders plus waiters
}

// NewKeyedLocker creates an empty KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{
		entries: make(map[string]*keyedEntry),
	}
}

// Lock blocks until the mutex for key is held.
func (k *KeyedLocker) Lock(key string) {
	k.mu.Lock()
	e, exists := k.entries[key]
	if !exists {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	// Wait outside the manager lock so other keys are not held up
	e.mu.Lock()
}

// Unlock releases the mutex for key. Unlocking a key that is not locked is a no-op.
func (k *KeyedLocker) Unlock(key string) {
	k.mu.Lock()
	e, exists := k.entries[key]
	if !exists {
		k.mu.Unlock()
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// LockAll acquires the mutexes for every distinct key in sorted order,
// so two callers locking overlapping sets cannot deadlock.
func (k *KeyedLocker) LockAll(keys []string) {
	for _, key := range uniqueSorted(keys) {
		k.Lock(key)
	}
}

// UnlockAll releases what LockAll acquired, in reverse order.
func (k *KeyedLocker) UnlockAll(keys []string) {
	sorted := uniqueSorted(keys)
	for i := len(sorted) - 1; i >= 0; i-- {
		k.Unlock(sorted[i])
	}
}

// size reports how many keys currently have holders or waiters.
func (k *KeyedLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func uniqueSorted(keys []string) []string {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}
