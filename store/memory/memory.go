// Package memory provides an in-memory ledger.Store for tests and dev.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sprout/allowance-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu       sync.RWMutex
	byID     map[string]*ledger.Transaction
	byAcct   map[string][]*ledger.Transaction // chronological
	accounts map[string]ledger.Account
	users    map[string]ledger.User
	settings ledger.Settings
}

func New() *Store {
	return &Store{
		byID:     make(map[string]*ledger.Transaction),
		byAcct:   make(map[string][]*ledger.Transaction),
		accounts: make(map[string]ledger.Account),
		users:    make(map[string]ledger.User),
		settings: ledger.Settings{AnnualRate: decimal.NewFromInt(5), Timezone: "Asia/Shanghai"},
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(tx)
}

// InsertTransactions appends atomically: all rows are validated against
// the current state before any is written, and writes happen under one
// lock acquisition, so readers never observe a partial batch.
func (s *Store) InsertTransactions(_ context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		if _, exists := s.byID[tx.ID]; exists {
			return fmt.Errorf("duplicate transaction id %s", tx.ID)
		}
	}
	for _, tx := range txs {
		if err := s.insertLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertLocked(tx ledger.Transaction) error {
	if _, exists := s.byID[tx.ID]; exists {
		return fmt.Errorf("duplicate transaction id %s", tx.ID)
	}
	stored := tx
	s.byID[tx.ID] = &stored

	rows := s.byAcct[tx.AccountID]
	i := sort.Search(len(rows), func(i int) bool {
		return rows[i].CreatedAt.After(tx.CreatedAt)
	})
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = &stored
	s.byAcct[tx.AccountID] = rows
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	out := *tx
	return &out, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, f ledger.TxFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.match(accountID, f)
	if f.NewestFirst {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * f.PageSize
		if start >= len(matched) {
			return nil, nil
		}
		end := start + f.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}

	out := make([]ledger.Transaction, len(matched))
	for i, tx := range matched {
		out[i] = *tx
	}
	return out, nil
}

func (s *Store) CountTransactions(_ context.Context, accountID string, f ledger.TxFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.match(accountID, f)), nil
}

func (s *Store) match(accountID string, f ledger.TxFilter) []*ledger.Transaction {
	var matched []*ledger.Transaction
	for _, tx := range s.byAcct[accountID] {
		if tx.IsVoid && !f.IncludeVoid {
			continue
		}
		if f.Before != nil && tx.CreatedAt.After(*f.Before) {
			continue
		}
		matched = append(matched, tx)
	}
	return matched
}

func (s *Store) MarkVoid(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	tx.IsVoid = true
	return nil
}

func (s *Store) SumBalanceAsOf(_ context.Context, accountID string, cutoff time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, tx := range s.byAcct[accountID] {
		if tx.IsVoid || tx.CreatedAt.After(cutoff) {
			continue
		}
		sum = sum.Add(tx.Signed())
	}
	return sum, nil
}

// =============================================================================
// ACCOUNTS / USERS / SETTINGS
// =============================================================================

func (s *Store) GetAccount(_ context.Context, id string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveAccount(_ context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveUser(_ context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetSettings(_ context.Context) (ledger.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings ledger.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

var _ ledger.Store = (*Store)(nil)
