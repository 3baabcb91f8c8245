/*
store.go - Persistence interface for accounts, users, and transactions

PURPOSE:
  Defines the interface between the accounting engine and the database.
  Different implementations can use SQLite or in-memory storage; in
  production the same patterns apply to PostgreSQL.

WRITE CONTRACT:
  Transaction rows are append-mostly:
  - InsertTransaction():  single row write
  - InsertTransactions(): atomic batch (both transfer legs or neither)
  - MarkVoid():           the ONLY permitted mutation, flips is_void
  No other update and no delete exists on transactions.

ATOMIC BATCHES:
  InsertTransactions ensures all-or-nothing semantics. A transfer is two
  rows; a partially visible transfer would break conservation, so either
  both legs commit or neither is ever observable.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (WAL, partial unique indexes)
  - store/memory: in-memory for tests and development

SEE ALSO:
  - engine.go: the only writer of transaction rows
  - store/sqlite/sqlite.go, store/memory/memory.go
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUERY FILTERS
// =============================================================================

// TxFilter narrows ListTransactions and CountTransactions results.
// Zero value means: non-void rows only, no cutoff, no paging.
type TxFilter struct {
	// IncludeVoid keeps soft-voided rows in the result.
	IncludeVoid bool

	// Before keeps only rows with CreatedAt <= Before when non-nil.
	Before *time.Time

	// NewestFirst reverses the default chronological order.
	NewestFirst bool

	// Page/PageSize enable paging when PageSize > 0. Page is 1-based.
	Page     int
	PageSize int
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence for the ledger. All methods are safe for
// concurrent use; serialization of check-then-insert sequences is the
// engine's job, not the store's.
type Store interface {
	// InsertTransaction persists a single transaction row.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// InsertTransactions persists multiple rows atomically.
	// Either all succeed or none do.
	InsertTransactions(ctx context.Context, txs []Transaction) error

	// GetTransaction returns a row by id, or ErrNotFound.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// ListTransactions returns an account's rows, chronological by
	// default, filtered per f.
	ListTransactions(ctx context.Context, accountID string, f TxFilter) ([]Transaction, error)

	// CountTransactions returns the number of rows matching f
	// (ignoring paging).
	CountTransactions(ctx context.Context, accountID string, f TxFilter) (int, error)

	// MarkVoid sets is_void on a row. The only permitted mutation.
	MarkVoid(ctx context.Context, id string) error

	// SumBalanceAsOf returns the signed sum of non-void rows with
	// created_at <= cutoff. Mirrors BalanceAsOf but lets the store do
	// the arithmetic close to the data.
	SumBalanceAsOf(ctx context.Context, accountID string, cutoff time.Time) (decimal.Decimal, error)

	// Accounts
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SaveAccount(ctx context.Context, a Account) error

	// Users
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SaveUser(ctx context.Context, u User) error

	// Settings (singleton)
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}
