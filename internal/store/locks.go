package store

import "sync"

// lockTable hands out one RWMutex per backing path. Entries exist only
// while some caller holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*pathLock)}
}

func (t *lockTable) acquire(key string) *pathLock {
	t.mu.Lock()
	defer t.mu.Unlock()

	pl, ok := t.locks[key]
	if !ok {
		pl = &pathLock{}
		t.locks[key] = pl
	}
	pl.refs++
	return pl
}

func (t *lockTable) release(key string, pl *pathLock) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pl.refs--
	if pl.refs == 0 {
		delete(t.locks, key)
	}
}

// Lock takes the exclusive lock for key and returns its release func.
func (t *lockTable) Lock(key string) func() {
	pl := t.acquire(key)
	pl.Lock()
	return func() {
		pl.Unlock()
		t.release(key, pl)
	}
}

// RLock takes the shared lock for key and returns its release func.
func (t *lockTable) RLock(key string) func() {
	pl := t.acquire(key)
	pl.RLock()
	return func() {
		pl.RUnlock()
		t.release(key, pl)
	}
}

func (t *lockTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
