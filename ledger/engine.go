/*
engine.go - Validation and write paths for the allowance ledger

PURPOSE:
  The Engine is the only writer of transaction rows. It enforces the
  ledger's business rules (active account, positive amount, sufficient
  balance, required note, matching currency) and serializes every
  check-then-insert sequence per account.

ENTRY POINTS:
  Apply          deposit / withdrawal (manual adjustments by a parent)
  Transfer       paired transfer_out + transfer_in between two accounts
  ApplyInterest  one interest row tagged with its settled month
  Void           soft-cancel a historic row (is_void = true)

CONCURRENCY:
  The balance-sufficiency check and the resulting insertion are wrapped
  in a per-account critical section, so N concurrent withdrawals against
  a balance that covers only one of them yield exactly one success.
  Transfer locks both accounts in ID order. ApplyInterest re-checks the
  settled month inside the critical section; the sqlite store adds a
  unique index on (account_id, interest_month) as a second line of
  defense.

SEE ALSO:
  - balance.go: the sums behind the sufficiency checks
  - interest/: month selection and settlement on top of ApplyInterest
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies transactions to accounts through a Store.
type Engine struct {
	store Store
	locks *accountLocks

	// now is injectable for tests.
	now func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		locks: newAccountLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine's clock. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Store exposes the underlying store for read paths.
func (e *Engine) Store() Store { return e.store }

// Balance returns the account's current balance (non-void rows only).
// Inactive accounts reject writes but their balance stays readable.
func (e *Engine) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return e.store.SumBalanceAsOf(ctx, accountID, e.now())
}

// =============================================================================
// APPLY - Manual deposit / withdrawal
// =============================================================================

// Apply validates and records a single deposit or withdrawal.
//
// Preconditions, first failure wins:
//  1. account exists and is active      -> ErrAccountInactive
//  2. amount positive, two decimals     -> ErrInvalidAmount
//  3. type is deposit or withdrawal     -> ErrUnsupportedType
//  4. withdrawal covered by balance     -> ErrInsufficientBalance
//  5. note non-empty after trimming     -> ErrMissingNote
func (e *Engine) Apply(ctx context.Context, accountID string, typ TxType, amount decimal.Decimal, note, actorID string) (*Transaction, error) {
	unlock := e.locks.lock(accountID)
	defer unlock()

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !ValidAmount(amount) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if typ != TxDeposit && typ != TxWithdrawal {
		// Interest and transfer rows are created only by their own
		// entry points.
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
	}
	if typ == TxWithdrawal {
		if err := e.checkSufficient(ctx, accountID, amount); err != nil {
			return nil, err
		}
	}
	trimmed := TrimNote(note)
	if trimmed == "" {
		return nil, ErrMissingNote
	}

	tx := Transaction{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Type:      typ,
		Amount:    amount,
		Currency:  account.Currency,
		Note:      trimmed,
		CreatedBy: actorID,
		CreatedAt: e.now(),
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// =============================================================================
// TRANSFER - Paired debit + credit as one unit
// =============================================================================

// Transfer atomically records a transfer_out on the source and a
// transfer_in on the target. Both rows share the amount, actor, and
// timestamp, and point at each other via RelatedAccountID. If either
// insertion fails, neither is ever visible to balance reads.
//
// Preconditions, first failure wins:
//  1. both accounts exist and are active -> ErrAccountInactive
//  2. source != target                   -> ErrSameAccount
//  3. identical currency                 -> ErrCurrencyMismatch
//  4. amount positive, two decimals      -> ErrInvalidAmount
//  5. source balance covers amount       -> ErrInsufficientBalance
func (e *Engine) Transfer(ctx context.Context, sourceID, targetID string, amount decimal.Decimal, note, actorID string) ([]Transaction, error) {
	if sourceID == targetID {
		// Checked before locking: lockPair on a single ID would
		// self-deadlock. Account existence still wins, matching the
		// documented precondition order.
		if _, err := e.activeAccount(ctx, sourceID); err != nil {
			return nil, err
		}
		return nil, ErrSameAccount
	}

	unlock := e.locks.lockPair(sourceID, targetID)
	defer unlock()

	source, err := e.activeAccount(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := e.activeAccount(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if source.Currency != target.Currency {
		return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, source.Currency, target.Currency)
	}
	if !ValidAmount(amount) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if err := e.checkSufficient(ctx, sourceID, amount); err != nil {
		return nil, err
	}

	now := e.now()
	suffix := TrimNote(note)
	out := Transaction{
		ID:               uuid.NewString(),
		AccountID:        source.ID,
		Type:             TxTransferOut,
		Amount:           amount,
		Currency:         source.Currency,
		Note:             e.transferNote(ctx, "转出至", target, suffix),
		RelatedAccountID: target.ID,
		CreatedBy:        actorID,
		CreatedAt:        now,
	}
	in := Transaction{
		ID:               uuid.NewString(),
		AccountID:        target.ID,
		Type:             TxTransferIn,
		Amount:           amount,
		Currency:         target.Currency,
		Note:             e.transferNote(ctx, "来自", source, suffix),
		RelatedAccountID: source.ID,
		CreatedBy:        actorID,
		CreatedAt:        now,
	}

	if err := e.store.InsertTransactions(ctx, []Transaction{out, in}); err != nil {
		return nil, err
	}
	return []Transaction{out, in}, nil
}

// transferNote derives the system note for one transfer leg, e.g.
// "转出至 小明 零花钱" or "来自 小红 压岁钱：生日礼物".
func (e *Engine) transferNote(ctx context.Context, prefix string, counterpart *Account, suffix string) string {
	ownerName := counterpart.Name
	if owner, err := e.store.GetUser(ctx, counterpart.OwnerChildID); err == nil && owner != nil {
		ownerName = owner.Name
	}
	base := fmt.Sprintf("%s %s %s", prefix, ownerName, counterpart.Name)
	if suffix == "" {
		return base
	}
	return base + "：" + suffix
}

// =============================================================================
// APPLY INTEREST - Settlement insertion primitive
// =============================================================================

// ApplyInterest records one interest row tagged with its settled month
// (YYYY-MM-01). The settled-month re-check runs inside the account's
// critical section so two concurrent settlement runs that both computed
// month M as unsettled cannot both insert it.
//
// Legacy rows that carry the month only in note text are the interest
// scheduler's concern; by the time this primitive is called the month
// has already been filtered against those, and every row written here
// carries the structured tag.
func (e *Engine) ApplyInterest(ctx context.Context, accountID string, amount decimal.Decimal, interestMonth, note, actorID string) (*Transaction, error) {
	if day, err := time.Parse("2006-01-02", interestMonth); err != nil || day.Day() != 1 {
		return nil, fmt.Errorf("interest month %q must be YYYY-MM-01", interestMonth)
	}

	unlock := e.locks.lock(accountID)
	defer unlock()

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !ValidAmount(amount) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	// Exactly-once per month: a voided interest row still claims its
	// month, so include void rows in the scan.
	existing, err := e.store.ListTransactions(ctx, accountID, TxFilter{IncludeVoid: true})
	if err != nil {
		return nil, err
	}
	for _, tx := range existing {
		if tx.Type == TxInterest && tx.InterestMonth == interestMonth {
			return nil, &MonthSettledError{
				AccountID:     accountID,
				InterestMonth: interestMonth,
				ExistingTxID:  tx.ID,
			}
		}
	}

	tx := Transaction{
		ID:            uuid.NewString(),
		AccountID:     account.ID,
		Type:          TxInterest,
		Amount:        amount,
		Currency:      account.Currency,
		Note:          TrimNote(note),
		InterestMonth: interestMonth,
		CreatedBy:     actorID,
		CreatedAt:     e.now(),
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// =============================================================================
// VOID - Soft-cancel without deleting history
// =============================================================================

// Void flips is_void on a transaction. It does not alter any other
// field and does not create a compensating row; every balance computed
// afterwards simply excludes the transaction.
//
// Voiding one leg of a transfer does NOT cascade to the counterpart
// leg. That can break the paired-transfer conservation invariant, which
// is accepted: void is a deliberate manual-override operation restricted
// to administrators, and the asymmetry keeps each row independently
// auditable.
func (e *Engine) Void(ctx context.Context, txID, actorID string) (*Transaction, error) {
	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
	}

	unlock := e.locks.lock(tx.AccountID)
	defer unlock()

	// Re-read under the lock: a concurrent void may have won.
	tx, err = e.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
	}
	if tx.IsVoid {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyVoid, txID)
	}
	if err := e.store.MarkVoid(ctx, txID); err != nil {
		return nil, err
	}
	voided := *tx
	voided.IsVoid = true
	return &voided, nil
}

// =============================================================================
// SHARED CHECKS
// =============================================================================

func (e *Engine) activeAccount(ctx context.Context, accountID string) (*Account, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrAccountInactive, accountID)
	}
	return account, nil
}

// checkSufficient must be called with the account's lock held.
func (e *Engine) checkSufficient(ctx context.Context, accountID string, amount decimal.Decimal) error {
	balance, err := e.store.SumBalanceAsOf(ctx, accountID, e.now())
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return &InsufficientBalanceError{
			AccountID: accountID,
			Available: balance,
			Requested: amount,
		}
	}
	return nil
}
