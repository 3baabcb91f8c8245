package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprout/allowance-ledger/ledger"
	"github.com/sprout/allowance-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	engine *ledger.Engine
	store  *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	return &fixture{engine: ledger.NewEngine(store), store: store}
}

func (f *fixture) addChild(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, f.store.SaveUser(context.Background(), ledger.User{
		ID:        id,
		Name:      name,
		Role:      ledger.RoleChild,
		CreatedAt: time.Now().UTC(),
	}))
	return id
}

func (f *fixture) addAccount(t *testing.T, name, currency, ownerID string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, f.store.SaveAccount(context.Background(), ledger.Account{
		ID:           id,
		Name:         name,
		Currency:     currency,
		OwnerChildID: ownerID,
		CreatedBy:    "parent-1",
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}))
	return id
}

func (f *fixture) deposit(t *testing.T, accountID, amount string) *ledger.Transaction {
	t.Helper()
	tx, err := f.engine.Apply(context.Background(), accountID, ledger.TxDeposit, amt(amount), "零花钱", "parent-1")
	require.NoError(t, err)
	return tx
}

func (f *fixture) balance(t *testing.T, accountID string) string {
	t.Helper()
	b, err := f.engine.Balance(context.Background(), accountID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

// =============================================================================
// APPLY - DEPOSIT / WITHDRAWAL
// =============================================================================

func TestApply_Deposit_CreatesRow(t *testing.T) {
	f := newFixture(t)
	child := f.addChild(t, "小明")
	account := f.addAccount(t, "零花钱", "CNY", child)

	tx, err := f.engine.Apply(context.Background(), account, ledger.TxDeposit, amt("25.50"), "  每周零花钱  ", "parent-1")

	require.NoError(t, err)
	assert.Equal(t, ledger.TxDeposit, tx.Type)
	assert.Equal(t, "CNY", tx.Currency, "currency copied from account")
	assert.Equal(t, "每周零花钱", tx.Note, "note trimmed")
	assert.False(t, tx.IsVoid)
	assert.Equal(t, "25.50", f.balance(t, account))
}

func TestApply_Withdrawal_ReducesBalance(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))
	f.deposit(t, account, "50.00")

	_, err := f.engine.Apply(context.Background(), account, ledger.TxWithdrawal, amt("20.00"), "买书", "parent-1")

	require.NoError(t, err)
	assert.Equal(t, "30.00", f.balance(t, account))
}

func TestApply_InactiveAccount_Rejected(t *testing.T) {
	f := newFixture(t)
	child := f.addChild(t, "小明")
	account := f.addAccount(t, "零花钱", "CNY", child)

	// Deactivate
	a, err := f.store.GetAccount(context.Background(), account)
	require.NoError(t, err)
	a.IsActive = false
	require.NoError(t, f.store.SaveAccount(context.Background(), *a))

	_, err = f.engine.Apply(context.Background(), account, ledger.TxDeposit, amt("10"), "test", "parent-1")
	assert.ErrorIs(t, err, ledger.ErrAccountInactive)
}

func TestApply_MissingAccount_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(context.Background(), "no-such-account", ledger.TxDeposit, amt("10"), "test", "parent-1")
	assert.ErrorIs(t, err, ledger.ErrAccountInactive)
}

func TestApply_NonPositiveAmount_Rejected(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))

	for _, amount := range []string{"0", "-5", "1.999"} {
		_, err := f.engine.Apply(context.Background(), account, ledger.TxDeposit, amt(amount), "test", "parent-1")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "amount %s", amount)
	}
}

func TestApply_InterestAndTransferTypes_Rejected(t *testing.T) {
	// Interest and transfer rows are created only by their own entry
	// points, never through Apply.
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))

	for _, typ := range []ledger.TxType{ledger.TxInterest, ledger.TxTransferIn, ledger.TxTransferOut, "bogus"} {
		_, err := f.engine.Apply(context.Background(), account, typ, amt("10"), "test", "parent-1")
		assert.ErrorIs(t, err, ledger.ErrUnsupportedType, "type %s", typ)
	}
}

func TestApply_WithdrawalExceedingBalance_RejectedWithoutRow(t *testing.T) {
	// GIVEN: account with balance 0
	// WHEN: withdrawing 10
	// THEN: InsufficientBalance, and no transaction row is created
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))

	_, err := f.engine.Apply(context.Background(), account, ledger.TxWithdrawal, amt("10"), "test", "parent-1")

	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	var short *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Available.IsZero())

	txns, err := f.store.ListTransactions(context.Background(), account, ledger.TxFilter{IncludeVoid: true})
	require.NoError(t, err)
	assert.Empty(t, txns, "rejection must not write a row")

	// Rejection is idempotent: a second attempt fails identically.
	_, err = f.engine.Apply(context.Background(), account, ledger.TxWithdrawal, amt("10"), "test", "parent-1")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestApply_EmptyNote_Rejected(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))

	_, err := f.engine.Apply(context.Background(), account, ledger.TxDeposit, amt("10"), "   ", "parent-1")
	assert.ErrorIs(t, err, ledger.ErrMissingNote)
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransfer_CreatesPairedLegs(t *testing.T) {
	// GIVEN: A (CNY, balance 10) and B (CNY)
	// WHEN: transferring 8 from A to B
	// THEN: A at 2, B at 8, two rows pointing at each other
	f := newFixture(t)
	xiaoming := f.addChild(t, "小明")
	xiaohong := f.addChild(t, "小红")
	a := f.addAccount(t, "零花钱", "CNY", xiaoming)
	b := f.addAccount(t, "压岁钱", "CNY", xiaohong)
	f.deposit(t, a, "10.00")

	legs, err := f.engine.Transfer(context.Background(), a, b, amt("8.00"), "", "parent-1")

	require.NoError(t, err)
	require.Len(t, legs, 2)

	out, in := legs[0], legs[1]
	assert.Equal(t, ledger.TxTransferOut, out.Type)
	assert.Equal(t, ledger.TxTransferIn, in.Type)
	assert.Equal(t, b, out.RelatedAccountID)
	assert.Equal(t, a, in.RelatedAccountID)
	assert.True(t, out.Amount.Equal(in.Amount))
	assert.Equal(t, out.CreatedAt, in.CreatedAt, "legs share a timestamp")
	assert.Contains(t, out.Note, "转出至")
	assert.Contains(t, out.Note, "小红")
	assert.Contains(t, in.Note, "来自")
	assert.Contains(t, in.Note, "小明")

	assert.Equal(t, "2.00", f.balance(t, a))
	assert.Equal(t, "8.00", f.balance(t, b))
}

func TestTransfer_ConservesTotalBalance(t *testing.T) {
	f := newFixture(t)
	child := f.addChild(t, "小明")
	a := f.addAccount(t, "零花钱", "CNY", child)
	b := f.addAccount(t, "储蓄", "CNY", child)
	f.deposit(t, a, "100.00")
	f.deposit(t, b, "40.00")

	_, err := f.engine.Transfer(context.Background(), a, b, amt("33.33"), "", "parent-1")
	require.NoError(t, err)

	ba, _ := f.engine.Balance(context.Background(), a)
	bb, _ := f.engine.Balance(context.Background(), b)
	assert.True(t, ba.Add(bb).Equal(amt("140.00")), "money is conserved")
}

func TestTransfer_FreeTextSuffixKept(t *testing.T) {
	f := newFixture(t)
	child := f.addChild(t, "小明")
	a := f.addAccount(t, "零花钱", "CNY", child)
	b := f.addAccount(t, "储蓄", "CNY", child)
	f.deposit(t, a, "10.00")

	legs, err := f.engine.Transfer(context.Background(), a, b, amt("5.00"), "生日礼物", "parent-1")
	require.NoError(t, err)
	assert.Contains(t, legs[0].Note, "生日礼物")
	assert.Contains(t, legs[1].Note, "生日礼物")
}

func TestTransfer_SameAccount_Rejected(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))
	f.deposit(t, a, "10.00")

	_, err := f.engine.Transfer(context.Background(), a, a, amt("5"), "", "parent-1")
	assert.ErrorIs(t, err, ledger.ErrSameAccount)
}

func TestTransfer_CurrencyMismatch_Rejected(t *testing.T) {
	f := newFixture(t)
	child := f.addChild(t, "小明")
	cny := f.addAccount(t, "零花钱", "CNY", child)
	usd := f.addAccount(t, "美元", "USD", child)
	f.deposit(t, cny, "10.00")

	_, err := f.engine.Transfer(context.Background(), cny, usd, amt("5"), "", "parent-1")
	assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)
}

func TestTransfer_InsufficientBalance_NoLegsWritten(t *testing.T) {
	f := newFixture(t)
	child := f.addChild(t, "小明")
	a := f.addAccount(t, "零花钱", "CNY", child)
	b := f.addAccount(t, "储蓄", "CNY", child)
	f.deposit(t, a, "5.00")

	_, err := f.engine.Transfer(context.Background(), a, b, amt("8.00"), "", "parent-1")

	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, "5.00", f.balance(t, a))
	assert.Equal(t, "0.00", f.balance(t, b))
}

// =============================================================================
// VOID
// =============================================================================

func TestVoid_ExcludesRowFromBalance(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))
	f.deposit(t, account, "50.00")
	tx := f.deposit(t, account, "25.00")
	require.Equal(t, "75.00", f.balance(t, account))

	voided, err := f.engine.Void(context.Background(), tx.ID, "parent-1")

	require.NoError(t, err)
	assert.True(t, voided.IsVoid)
	assert.True(t, voided.Amount.Equal(tx.Amount), "only is_void changes")
	assert.Equal(t, "50.00", f.balance(t, account))

	// Still visible in history with the void filter off.
	all, err := f.store.ListTransactions(context.Background(), account, ledger.TxFilter{IncludeVoid: true})
	require.NoError(t, err)
	assert.Len(t, all, 2, "voided rows stay in history")
}

func TestVoid_AlreadyVoid_Rejected(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))
	tx := f.deposit(t, account, "25.00")

	_, err := f.engine.Void(context.Background(), tx.ID, "parent-1")
	require.NoError(t, err)

	_, err = f.engine.Void(context.Background(), tx.ID, "parent-1")
	assert.ErrorIs(t, err, ledger.ErrAlreadyVoid)
}

func TestVoid_UnknownTransaction_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Void(context.Background(), "no-such-tx", "parent-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestVoid_TransferLeg_DoesNotCascade(t *testing.T) {
	// Known asymmetry: voiding one transfer leg leaves the counterpart
	// active, which breaks conservation between the two accounts. This
	// is a deliberate admin override, not a bug to fix here.
	f := newFixture(t)
	child := f.addChild(t, "小明")
	a := f.addAccount(t, "零花钱", "CNY", child)
	b := f.addAccount(t, "储蓄", "CNY", child)
	f.deposit(t, a, "10.00")

	legs, err := f.engine.Transfer(context.Background(), a, b, amt("8.00"), "", "parent-1")
	require.NoError(t, err)

	_, err = f.engine.Void(context.Background(), legs[0].ID, "parent-1")
	require.NoError(t, err)

	// Source got its money back, target keeps it too.
	assert.Equal(t, "10.00", f.balance(t, a))
	assert.Equal(t, "8.00", f.balance(t, b))

	counterpart, err := f.store.GetTransaction(context.Background(), legs[1].ID)
	require.NoError(t, err)
	assert.False(t, counterpart.IsVoid, "counterpart leg must stay active")
}

// =============================================================================
// INTEREST INSERTION
// =============================================================================

func TestApplyInterest_TagsMonth(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))
	f.deposit(t, account, "100.00")

	tx, err := f.engine.ApplyInterest(context.Background(), account, amt("0.42"), "2024-02-01", "2024年2月结息，利率 10%", "system:interest")

	require.NoError(t, err)
	assert.Equal(t, ledger.TxInterest, tx.Type)
	assert.Equal(t, "2024-02-01", tx.InterestMonth)
	assert.Equal(t, "100.42", f.balance(t, account))
}

func TestApplyInterest_DuplicateMonth_Rejected(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))
	f.deposit(t, account, "100.00")

	_, err := f.engine.ApplyInterest(context.Background(), account, amt("0.42"), "2024-02-01", "note", "system:interest")
	require.NoError(t, err)

	_, err = f.engine.ApplyInterest(context.Background(), account, amt("0.42"), "2024-02-01", "note", "system:interest")
	assert.ErrorIs(t, err, ledger.ErrMonthSettled)
}

func TestApplyInterest_VoidedRowStillClaimsMonth(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))
	f.deposit(t, account, "100.00")

	tx, err := f.engine.ApplyInterest(context.Background(), account, amt("0.42"), "2024-02-01", "note", "system:interest")
	require.NoError(t, err)
	_, err = f.engine.Void(context.Background(), tx.ID, "parent-1")
	require.NoError(t, err)

	_, err = f.engine.ApplyInterest(context.Background(), account, amt("0.42"), "2024-02-01", "note", "system:interest")
	assert.ErrorIs(t, err, ledger.ErrMonthSettled)
}

func TestApplyInterest_MalformedMonth_Rejected(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))

	for _, month := range []string{"2024-02", "2024-02-15", "february"} {
		_, err := f.engine.ApplyInterest(context.Background(), account, amt("0.42"), month, "note", "system:interest")
		assert.Error(t, err, "month %s", month)
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApply_ConcurrentWithdrawals_ExactlyOneSucceeds(t *testing.T) {
	// GIVEN: balance covers exactly one withdrawal
	// WHEN: N withdrawals race
	// THEN: one success, N-1 InsufficientBalance, balance never negative
	f := newFixture(t)
	account := f.addAccount(t, "零花钱", "CNY", f.addChild(t, "小明"))
	f.deposit(t, account, "10.00")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Apply(context.Background(), account, ledger.TxWithdrawal, amt("10.00"), "race", "parent-1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, "0.00", f.balance(t, account))
}

func TestTransfer_ConcurrentOppositeDirections_NoDeadlock(t *testing.T) {
	f := newFixture(t)
	child := f.addChild(t, "小明")
	a := f.addAccount(t, "零花钱", "CNY", child)
	b := f.addAccount(t, "储蓄", "CNY", child)
	f.deposit(t, a, "100.00")
	f.deposit(t, b, "100.00")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.engine.Transfer(context.Background(), a, b, amt("1.00"), "", "parent-1")
		}()
		go func() {
			defer wg.Done()
			f.engine.Transfer(context.Background(), b, a, amt("1.00"), "", "parent-1")
		}()
	}
	wg.Wait()

	ba, _ := f.engine.Balance(context.Background(), a)
	bb, _ := f.engine.Balance(context.Background(), b)
	assert.True(t, ba.Add(bb).Equal(amt("200.00")), "total conserved under contention")
}
