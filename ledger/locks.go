package ledger

import "sync"

// =============================================================================
// PER-ACCOUNT LOCKS
// =============================================================================

// accountLocks serializes check-then-insert sequences per account so two
// concurrent withdrawals cannot both pass a sufficiency check against a
// stale balance. Different accounts proceed independently.
//
// Mutexes are created on first use and never released; the universe of
// accounts in a family ledger is small enough that this never matters.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *accountLocks) get(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}

// lock acquires the lock for one account and returns its unlock func.
func (l *accountLocks) lock(accountID string) func() {
	m := l.get(accountID)
	m.Lock()
	return m.Unlock
}

// lockPair acquires both accounts' locks in ID order so two concurrent
// opposite-direction transfers cannot deadlock.
func (l *accountLocks) lockPair(a, b string) func() {
	if b < a {
		a, b = b, a
	}
	ma, mb := l.get(a), l.get(b)
	ma.Lock()
	mb.Lock()
	return func() {
		mb.Unlock()
		ma.Unlock()
	}
}
