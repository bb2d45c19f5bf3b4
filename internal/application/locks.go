package application

import "sync"

// lockTable hands out one mutex per id. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*refMutex)}
}

// lock blocks until id is held and returns the matching unlock.
func (t *lockTable) lock(id string) func() {
	t.mu.Lock()
	m, ok := t.locks[id]
	if !ok {
		m = &refMutex{}
		t.locks[id] = m
	}
	m.refs++
	t.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		t.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}
