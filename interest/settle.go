/*
settle.go - Interest settlement runner

PURPOSE:
  Applies a settlement schedule: for each unsettled month, computes the
  interest amount and inserts one interest row through the engine.

MONEY MATH:
  monthly_rate = annual_rate / 12 / 100
  amount       = balance as of the start of the settled month
                 * monthly_rate, rounded to two decimals

  A month whose interest rounds to zero (typically the month the
  account was opened mid-month, with nothing carried in at its start)
  is skipped without a row. Once a later month settles, the walk
  resumes after the latest settled month, so skipped months are not
  revisited forever.

CONCURRENCY:
  Different accounts settle independently (errgroup fan-out). Re-runs
  for the same account are idempotent through the settled-month scan,
  and the engine serializes the final check-then-insert per account.
*/
package interest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sprout/allowance-ledger/ledger"
)

// SettlementActor is recorded as created_by on settlement rows.
const SettlementActor = "system:interest"

var (
	months  = decimal.NewFromInt(12)
	percent = decimal.NewFromInt(100)
)

// =============================================================================
// SETTLER
// =============================================================================

// Settler drives interest settlement across accounts.
type Settler struct {
	engine *ledger.Engine
	store  ledger.Store
	log    *slog.Logger

	// MaxConcurrent bounds the account fan-out in SettleAll.
	MaxConcurrent int
}

func NewSettler(engine *ledger.Engine, log *slog.Logger) *Settler {
	if log == nil {
		log = slog.Default()
	}
	return &Settler{
		engine:        engine,
		store:         engine.Store(),
		log:           log,
		MaxConcurrent: 4,
	}
}

// SettleAccount settles every outstanding month for one account and
// returns the rows it inserted. Invalid settings are reported before
// any schedule is computed.
func (s *Settler) SettleAccount(ctx context.Context, accountID string, now time.Time) ([]ledger.Transaction, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.AnnualRate.IsPositive() {
		return nil, fmt.Errorf("interest settings: annual rate %s must be positive", settings.AnnualRate)
	}
	loc, err := settings.Location()
	if err != nil {
		return nil, fmt.Errorf("interest settings: %w", err)
	}

	// Void rows are included: a voided interest row still claims its
	// month, and the first transaction's month should not shift when
	// an early row is voided.
	txns, err := s.store.ListTransactions(ctx, accountID, ledger.TxFilter{IncludeVoid: true})
	if err != nil {
		return nil, err
	}

	schedule := BuildSchedule(txns, now, settings.AnnualRate, loc)
	if len(schedule.MonthsToSettle) == 0 {
		return nil, nil
	}

	monthlyRate := settings.AnnualRate.Div(months).Div(percent)

	var inserted []ledger.Transaction
	for _, month := range schedule.MonthsToSettle {
		base := ledger.BalanceAsOf(txns, month.Start(loc))
		amount := base.Mul(monthlyRate).Round(2)
		if !amount.IsPositive() {
			s.log.Debug("skipping month with no interest",
				"account", accountID, "month", month.Key(), "base", base.String())
			continue
		}

		tx, err := s.engine.ApplyInterest(ctx, accountID, amount, month.Date(), schedule.NoteByMonth[month.Key()], SettlementActor)
		if err != nil {
			// A concurrent run may have settled this month first.
			if ledger.IsClientError(err) {
				s.log.Info("month settled concurrently, skipping",
					"account", accountID, "month", month.Key(), "err", err)
				continue
			}
			return inserted, err
		}
		inserted = append(inserted, *tx)
	}
	return inserted, nil
}

// SettleAll runs settlement for every active account. Accounts proceed
// independently; the first hard failure cancels the rest.
func (s *Settler) SettleAll(ctx context.Context, now time.Time) (int, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.MaxConcurrent)

	results := make([]int, len(accounts))
	for i, account := range accounts {
		if !account.IsActive {
			continue
		}
		i, account := i, account
		g.Go(func() error {
			rows, err := s.SettleAccount(ctx, account.ID, now)
			if err != nil {
				return fmt.Errorf("settle %s: %w", account.ID, err)
			}
			results[i] = len(rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range results {
		total += n
	}
	return total, nil
}
