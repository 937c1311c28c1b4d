package svm

import (
	"sort"
	"sync"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
)

// lockRequest asks for one account, exclusively when writable.
type lockRequest struct {
	key      types.Pubkey
	writable bool
}

// lockTable hands out per-account reader/writer locks. Entries exist only
// while referenced.
type lockTable struct {
	mu    sync.Mutex
	locks map[types.Pubkey]*accountLock
}

type accountLock struct {
	rw   sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[types.Pubkey]*accountLock)}
}

// acquire blocks until every requested lock is held and returns the
// function that releases them. Keys are taken in ascending order so two
// transactions can never wait on each other in a cycle.
func (t *lockTable) acquire(reqs []lockRequest) (release func()) {
	sorted := make([]lockRequest, len(reqs))
	copy(sorted, reqs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].key.Compare(sorted[j].key) < 0
	})

	held := make([]*accountLock, len(sorted))
	for i, req := range sorted {
		l := t.ref(req.key)
		if req.writable {
			l.rw.Lock()
		} else {
			l.rw.RLock()
		}
		held[i] = l
	}

	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			if sorted[i].writable {
				held[i].rw.Unlock()
			} else {
				held[i].rw.RUnlock()
			}
			t.unref(sorted[i].key)
		}
	}
}

func (t *lockTable) ref(key types.Pubkey) *accountLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &accountLock{}
		t.locks[key] = l
	}
	l.refs++
	return l
}

func (t *lockTable) unref(key types.Pubkey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// size returns how many keys currently have a lock entry.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
