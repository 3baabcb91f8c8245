/*
Package ledger provides the core allowance accounting engine.

PURPOSE:
  This package contains the types and rules governing how monetary
  transactions are applied to family allowance accounts: balance
  derivation, deposit/withdrawal validation, paired transfers, interest
  insertion, and soft-voiding of historic rows.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A named, currency-denominated bucket owned by a child
  - Transaction: A row in the append-mostly money-movement log
  - User: A parent or child identity (used for ownership and audit)
  - Settings: Singleton interest configuration (annual rate + timezone)

DESIGN PRINCIPLES:
  1. The transaction log is the source of truth: balance is always
     recomputable from it; any materialized balance is a cache
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Rows are never mutated once written, except toggling IsVoid
  4. Every manual adjustment carries a note so it can be explained later

SEE ALSO:
  - balance.go: Signed-sum balance derivation
  - engine.go: Validation and write paths (apply, transfer, void)
  - store.go: Persistence interface
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

type TxType string

const (
	TxDeposit     TxType = "deposit"      // Manual credit by a parent
	TxWithdrawal  TxType = "withdrawal"   // Manual debit by a parent
	TxTransferIn  TxType = "transfer_in"  // Credit leg of a paired transfer
	TxTransferOut TxType = "transfer_out" // Debit leg of a paired transfer
	TxInterest    TxType = "interest"     // Monthly interest settlement
)

// Sign returns +1 for credit types and -1 for debit types.
func (t TxType) Sign() int {
	switch t {
	case TxWithdrawal, TxTransferOut:
		return -1
	default:
		return 1
	}
}

// IsValid reports whether t is one of the five known transaction types.
func (t TxType) IsValid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransferIn, TxTransferOut, TxInterest:
		return true
	}
	return false
}

// =============================================================================
// TRANSACTION - One row in the money-movement log
// =============================================================================

// Transaction records a single signed movement against one account.
//
// Lifecycle: created once by the engine (apply, transfer, or interest
// settlement); never mutated afterwards except toggling IsVoid; never
// physically deleted except as a cascade of an external administrative
// account deletion.
type Transaction struct {
	ID        string
	AccountID string
	Type      TxType

	// Amount is strictly positive with two decimal places. Direction
	// comes from Type, not from the sign of Amount.
	Amount   decimal.Decimal
	Currency string

	// Note is required for deposit/withdrawal (every manual adjustment
	// must be explainable) and system-generated for transfer/interest.
	Note string

	// RelatedAccountID is set only on transfer legs and points at the
	// counterpart account.
	RelatedAccountID string

	// InterestMonth is set only on interest rows and identifies the
	// settled calendar month in YYYY-MM-01 form. Older rows may leave it
	// empty and carry the month only in the note text.
	InterestMonth string

	IsVoid    bool
	CreatedBy string
	CreatedAt time.Time
}

// Signed returns the transaction's contribution to its account balance:
// +Amount for deposit/transfer_in/interest, -Amount for the debit types.
func (tx Transaction) Signed() decimal.Decimal {
	if tx.Type.Sign() < 0 {
		return tx.Amount.Neg()
	}
	return tx.Amount
}

// IsTransferLeg reports whether the row is one half of a paired transfer.
func (tx Transaction) IsTransferLeg() bool {
	return tx.Type == TxTransferIn || tx.Type == TxTransferOut
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a named, currency-denominated bucket owned by a child.
// Inactive accounts remain readable but reject all new transactions.
type Account struct {
	ID           string
	Name         string
	Currency     string // ISO-like uppercase code, fixed at creation
	OwnerChildID string
	CreatedBy    string
	IsActive     bool
	CreatedAt    time.Time
}

// =============================================================================
// USER - Parent or child identity
// =============================================================================

type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

type User struct {
	ID        string
	Name      string
	Role      Role
	AvatarID  string
	CreatedAt time.Time
}

// =============================================================================
// SETTINGS - Singleton interest configuration
// =============================================================================

// Settings holds the annual interest rate (percent, so 5 means 5%/year)
// and the IANA timezone used to bucket transactions into calendar months.
type Settings struct {
	AnnualRate decimal.Decimal
	Timezone   string
}

// Location resolves the configured timezone. A malformed timezone is a
// configuration error and must be surfaced before any settlement runs.
func (s Settings) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// =============================================================================
// AMOUNT HELPERS
// =============================================================================

// ValidAmount reports whether v is strictly positive with at most two
// decimal places of precision.
func ValidAmount(v decimal.Decimal) bool {
	return v.IsPositive() && v.Equal(v.Round(2))
}

// TrimNote normalizes a user-supplied note.
func TrimNote(note string) string {
	return strings.TrimSpace(note)
}
