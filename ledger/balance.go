/*
balance.go - Balance derivation from the transaction log

PURPOSE:
  Computes an account's balance by replaying its transaction history.
  There is no stored balance field that can drift out of sync: the log
  is the durable source of truth and any cached sum is just a cache.

SIGNED SUM:
  deposit / transfer_in / interest  contribute +amount
  withdrawal / transfer_out         contribute -amount
  voided rows                       contribute 0

CONSISTENCY:
  BalanceAsOf(txns, t2) - BalanceAsOf(txns, t1) equals the signed sum of
  transactions with t1 < created_at <= t2. Pure functions, no side effects.

SEE ALSO:
  - engine.go: Uses these sums for sufficiency checks
  - store.go: SumBalanceAsOf pushes the same sum into the store
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// BalanceAsOf sums the signed amounts of all non-void transactions with
// CreatedAt <= cutoff. Returns zero for an empty list.
func BalanceAsOf(txns []Transaction, cutoff time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txns {
		if tx.IsVoid || tx.CreatedAt.After(cutoff) {
			continue
		}
		sum = sum.Add(tx.Signed())
	}
	return sum
}

// Balance sums the signed amounts of all non-void transactions.
func Balance(txns []Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txns {
		if tx.IsVoid {
			continue
		}
		sum = sum.Add(tx.Signed())
	}
	return sum
}
