/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All business-rule errors in one place. Callers map each kind to a
  localized message; the engine's contract is only to return a stable,
  distinguishable kind plus a human-readable detail string.

PROPAGATION POLICY:
  Every precondition failure is returned as a typed error to the
  immediate caller. None are swallowed, and none are retried by the
  engine: business-rule errors are deterministic, so retrying without
  correcting the condition reproduces the same failure. Transient I/O
  retries belong to the persistence layer.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

  var short *ledger.InsufficientBalanceError
  if errors.As(err, &short) {
      fmt.Println(short.Available, short.Requested)
  }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountInactive is returned when the target account is missing
	// or soft-deleted. Inactive accounts reject all new transactions.
	ErrAccountInactive = errors.New("account inactive")

	// ErrInvalidAmount is returned for non-positive amounts or amounts
	// with more than two decimal places.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a withdrawal or transfer
	// exceeds the account's current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCurrencyMismatch is returned for transfers between accounts of
	// different currencies. No conversion is supported.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrSameAccount is returned when a transfer's source equals its target.
	ErrSameAccount = errors.New("transfer source equals target")

	// ErrMissingNote is returned for a manual adjustment without an
	// explanation.
	ErrMissingNote = errors.New("note required")

	// ErrUnsupportedType is returned when a transaction type is not
	// allowed at the entry point (interest and transfer rows are created
	// only by their own paths, never through Apply).
	ErrUnsupportedType = errors.New("unsupported transaction type")

	// ErrAlreadyVoid is returned when voiding an already-void transaction.
	ErrAlreadyVoid = errors.New("transaction already void")

	// ErrMonthSettled is returned when an interest row for the same
	// calendar month already exists on the account.
	ErrMonthSettled = errors.New("interest month already settled")

	// ErrNotFound is returned when a referenced account or transaction
	// does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage with details.
type InsufficientBalanceError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// MonthSettledError reports a duplicate interest settlement attempt.
type MonthSettledError struct {
	AccountID     string
	InterestMonth string
	ExistingTxID  string
}

func (e *MonthSettledError) Error() string {
	return fmt.Sprintf("interest for %s already settled on %s (tx: %s)",
		e.InterestMonth, e.AccountID, e.ExistingTxID)
}

func (e *MonthSettledError) Unwrap() error {
	return ErrMonthSettled
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrMissingNote) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrAlreadyVoid) ||
		errors.Is(err, ErrMonthSettled)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorCode maps an error to its stable machine-readable kind. The
// calling layer maps each kind to a localized message; this string is
// the contract, the detail text is not.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, ErrSameAccount):
		return "same_account"
	case errors.Is(err, ErrMissingNote):
		return "missing_note"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrAlreadyVoid):
		return "already_void"
	case errors.Is(err, ErrMonthSettled):
		return "month_settled"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
