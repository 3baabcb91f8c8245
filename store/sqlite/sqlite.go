/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Production persistence for the allowance ledger. The same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:        Parent and child identities
  accounts:     Currency buckets owned by children
  transactions: The money-movement log (append-mostly)
  settings:     Singleton interest configuration

WRITE DISCIPLINE:
  Transaction rows are never updated or deleted, with one exception:
  MarkVoid flips is_void and touches nothing else. Paired transfer legs
  are written inside a single database transaction, so either both
  commit or neither is ever visible.

INDEXES:
  idx_transactions_account_created: balance sums and history paging
  idx_unique_interest_month:        partial UNIQUE index on
                                    (account_id, interest_month) for
                                    interest rows - the database-level
                                    backstop for exactly-once monthly
                                    settlement

WAL MODE:
  Opened with WAL so readers don't block the single writer and crash
  recovery is cheap.

USAGE:
  store, err := sqlite.New("./data/allowance.db")
  ...
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definition
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/sprout/allowance-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY under concurrent
	// settlement runs and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		avatar_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		owner_child_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner_child_id);

	-- The money-movement log. Rows are never updated except is_void,
	-- and deleted only as a cascade of account deletion.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		note TEXT,
		related_account_id TEXT,
		interest_month TEXT,
		is_void BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot path: balance sums and history paging.
	CREATE INDEX IF NOT EXISTS idx_transactions_account_created
		ON transactions(account_id, created_at);

	-- CRITICAL: each calendar month settles interest at most once per
	-- account, even if two settlement runs race past the engine check.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_interest_month
		ON transactions(account_id, interest_month)
		WHERE type = 'interest' AND interest_month IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_transactions_related
		ON transactions(related_account_id) WHERE related_account_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		annual_rate TEXT NOT NULL,
		timezone TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return s.insertTx(ctx, s.db, tx)
}

// InsertTransactions writes all rows inside one database transaction.
func (s *Store) InsertTransactions(ctx context.Context, txs []ledger.Transaction) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if err := s.insertTx(ctx, dbTx, tx); err != nil {
			dbTx.Rollback()
			return err
		}
	}
	return dbTx.Commit()
}

func (s *Store) insertTx(ctx context.Context, db execer, tx ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, account_id, type, amount, currency, note, related_account_id,
		 interest_month, is_void, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.AccountID,
		string(tx.Type),
		tx.Amount.StringFixed(2),
		tx.Currency,
		tx.Note,
		nullString(tx.RelatedAccountID),
		nullString(tx.InterestMonth),
		tx.IsVoid,
		tx.CreatedBy,
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil && tx.Type == ledger.TxInterest && isUniqueViolation(err) {
		return &ledger.MonthSettledError{
			AccountID:     tx.AccountID,
			InterestMonth: tx.InterestMonth,
		}
	}
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, type, amount, currency, note, related_account_id,
		       interest_month, is_void, created_by, created_at
		FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, f ledger.TxFilter) ([]ledger.Transaction, error) {
	query := `
		SELECT id, account_id, type, amount, currency, note, related_account_id,
		       interest_month, is_void, created_by, created_at
		FROM transactions WHERE account_id = ?`
	args := []any{accountID}

	if !f.IncludeVoid {
		query += ` AND is_void = FALSE`
	}
	if f.Before != nil {
		query += ` AND created_at <= ?`
		args = append(args, f.Before.UTC().Format(time.RFC3339Nano))
	}
	if f.NewestFirst {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.PageSize, (page-1)*f.PageSize)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (s *Store) CountTransactions(ctx context.Context, accountID string, f ledger.TxFilter) (int, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE account_id = ?`
	args := []any{accountID}
	if !f.IncludeVoid {
		query += ` AND is_void = FALSE`
	}
	if f.Before != nil {
		query += ` AND created_at <= ?`
		args = append(args, f.Before.UTC().Format(time.RFC3339Nano))
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// MarkVoid flips is_void. The only UPDATE on the transactions table.
func (s *Store) MarkVoid(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET is_void = TRUE WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	return nil
}

func (s *Store) SumBalanceAsOf(ctx context.Context, accountID string, cutoff time.Time) (decimal.Decimal, error) {
	// Amounts are stored as TEXT to keep decimal precision, so the
	// signed sum happens in Go on top of an indexed scan.
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, amount FROM transactions
		WHERE account_id = ? AND is_void = FALSE AND created_at <= ?`,
		accountID, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var typ, amount string
		if err := rows.Scan(&typ, &amount); err != nil {
			return decimal.Zero, err
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", amount, err)
		}
		if ledger.TxType(typ).Sign() < 0 {
			sum = sum.Sub(value)
		} else {
			sum = sum.Add(value)
		}
	}
	return sum, rows.Err()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, currency, owner_child_id, created_by, is_active, created_at
		FROM accounts WHERE id = ?`, id)
	var a ledger.Account
	var createdAt string
	err := row.Scan(&a.ID, &a.Name, &a.Currency, &a.OwnerChildID, &a.CreatedBy, &a.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, currency, owner_child_id, created_by, is_active, created_at
		FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.Currency, &a.OwnerChildID, &a.CreatedBy, &a.IsActive, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, currency, owner_child_id, created_by, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active`,
		a.ID, a.Name, a.Currency, a.OwnerChildID, a.CreatedBy, a.IsActive,
		a.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id string) (*ledger.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, COALESCE(avatar_id, ''), created_at
		FROM users WHERE id = ?`, id)
	var u ledger.User
	var createdAt string
	err := row.Scan(&u.ID, &u.Name, (*string)(&u.Role), &u.AvatarID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, COALESCE(avatar_id, ''), created_at
		FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.User
	for rows.Next() {
		var u ledger.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Name, (*string)(&u.Role), &u.AvatarID, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTime(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, role, avatar_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			avatar_id = excluded.avatar_id`,
		u.ID, u.Name, string(u.Role), nullString(u.AvatarID),
		u.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSettings(ctx context.Context) (ledger.Settings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT annual_rate, timezone FROM settings WHERE id = 1`)
	var rate, tz string
	err := row.Scan(&rate, &tz)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Settings{}, fmt.Errorf("%w: settings not initialized", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Settings{}, err
	}
	annualRate, err := decimal.NewFromString(rate)
	if err != nil {
		return ledger.Settings{}, fmt.Errorf("corrupt annual rate %q: %w", rate, err)
	}
	return ledger.Settings{AnnualRate: annualRate, Timezone: tz}, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings ledger.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, annual_rate, timezone, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			annual_rate = excluded.annual_rate,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		settings.AnnualRate.String(), settings.Timezone,
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

type scannable interface {
	Scan(dest ...any) error
}

func scanTransaction(row scannable) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var amount, createdAt string
	var note, related, month sql.NullString
	err := row.Scan(&tx.ID, &tx.AccountID, (*string)(&tx.Type), &amount, &tx.Currency,
		&note, &related, &month, &tx.IsVoid, &tx.CreatedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	tx.Note = note.String
	tx.RelatedAccountID = related.String
	tx.InterestMonth = month.String
	tx.CreatedAt = parseTime(createdAt)
	return &tx, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ledger.Store = (*Store)(nil)
