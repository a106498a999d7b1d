package trade

import "sync"

// keyedMutex provides per-key mutual exclusion. Bet placement holds the
// user's key across the balance check and debit so two concurrent bets
// cannot both pass the check against the same balance. Entries are
// reference-counted and removed when the last holder releases.
type keyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{keys: make(map[string]*keyLock)}
}

// Lock blocks until the key is held and returns the release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.keys[key]
	if !ok {
		entry = &keyLock{}
		k.keys[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.keys, key)
		}
		k.mu.Unlock()
	}
}
