/*
Package interest computes monthly interest settlement for allowance accounts.

PURPOSE:
  Decides which calendar months of an account's history still need an
  interest settlement, and generates the note text for each. The money
  math and the actual insertion live in settle.go; this file is pure
  month-selection over a transaction list.

ALGORITHM (schedule.go):
  1. No transactions -> nothing to accrue interest on.
  2. firstMonth = month (in the configured timezone) of the earliest
     transaction.
  3. Scan existing interest rows for their settled months. Three-way
     resolution, a historical schema migration made visible:
       a. structured interest_month field when present
       b. legacy note text "<year>年<month>月结息"
       c. the row's own created_at month as last resort
  4. startMonth = month after the latest settled month, or firstMonth
     when nothing is settled yet.
  5. Walk months from startMonth through the month before the current
     month (the in-progress month is never settled), collecting every
     month not already settled, with its note
     "<year>年<month>月结息，利率 <annual_rate>%".

IDEMPOTENCE:
  The settled-month scan makes re-runs safe: a month covered by any
  existing interest row, tagged or legacy, is never returned again.

SEE ALSO:
  - settle.go: applies the schedule (rate math + engine insertion)
  - ledger/engine.go: ApplyInterest, the insertion primitive
*/
package interest

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sprout/allowance-ledger/ledger"
)

// =============================================================================
// MONTH - A calendar month in the settlement timezone
// =============================================================================

// Month identifies one calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf buckets an instant into its calendar month in loc.
func MonthOf(t time.Time, loc *time.Location) Month {
	local := t.In(loc)
	return Month{Year: local.Year(), Month: local.Month()}
}

// Key returns the YYYY-MM form, e.g. "2024-02".
func (m Month) Key() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Date returns the YYYY-MM-01 form used by Transaction.InterestMonth.
func (m Month) Date() string {
	return m.Key() + "-01"
}

// Start returns the first instant of the month in loc.
func (m Month) Start(loc *time.Location) time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// After reports whether m is strictly later than other.
func (m Month) After(other Month) bool {
	if m.Year != other.Year {
		return m.Year > other.Year
	}
	return m.Month > other.Month
}

// =============================================================================
// SETTLED-MONTH RESOLUTION
// =============================================================================

// legacyNoteRe matches the pre-migration note format that carried the
// settled month only as text, e.g. "2024年2月结息，利率 8%".
var legacyNoteRe = regexp.MustCompile(`^(\d{4})年(\d{1,2})月结息`)

// ParseLegacyNote extracts the settled month from legacy note text.
func ParseLegacyNote(note string) (Month, bool) {
	match := legacyNoteRe.FindStringSubmatch(note)
	if match == nil {
		return Month{}, false
	}
	year, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	if month < 1 || month > 12 {
		return Month{}, false
	}
	return Month{Year: year, Month: time.Month(month)}, true
}

// settledMonth resolves which month an interest row settles. Callers
// never need to know which representation a historic row uses.
func settledMonth(tx ledger.Transaction, loc *time.Location) Month {
	if tx.InterestMonth != "" {
		if day, err := time.Parse("2006-01-02", tx.InterestMonth); err == nil {
			return Month{Year: day.Year(), Month: day.Month()}
		}
	}
	if m, ok := ParseLegacyNote(tx.Note); ok {
		return m
	}
	return MonthOf(tx.CreatedAt, loc)
}

// SettledMonths collects the months already covered by interest rows.
// Voided interest rows still claim their month: the row stays in
// history and re-settling the month would double-count it there.
func SettledMonths(txns []ledger.Transaction, loc *time.Location) map[Month]bool {
	settled := make(map[Month]bool)
	for _, tx := range txns {
		if tx.Type != ledger.TxInterest {
			continue
		}
		settled[settledMonth(tx, loc)] = true
	}
	return settled
}

// =============================================================================
// SCHEDULE - Which months still need settlement
// =============================================================================

// Schedule is the result of month selection for one account.
type Schedule struct {
	// StartMonth is where the walk began: the month after the latest
	// settled month, or the first transaction's month. Zero value when
	// the account has no transactions.
	StartMonth Month

	// MonthsToSettle lists unsettled months in ascending order, up to
	// and including the month before the current month.
	MonthsToSettle []Month

	// NoteByMonth maps each month key to its settlement note text.
	NoteByMonth map[string]string
}

// BuildSchedule computes the settlement schedule for one account's
// transaction history. Pure and total over valid inputs: malformed
// settings (unknown timezone, non-positive rate) are a configuration
// error the caller reports before ever invoking this.
func BuildSchedule(txns []ledger.Transaction, now time.Time, annualRate decimal.Decimal, loc *time.Location) Schedule {
	if len(txns) == 0 {
		return Schedule{NoteByMonth: map[string]string{}}
	}

	sorted := make([]ledger.Transaction, len(txns))
	copy(sorted, txns)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	firstMonth := MonthOf(sorted[0].CreatedAt, loc)
	settled := SettledMonths(sorted, loc)

	start := firstMonth
	if len(settled) > 0 {
		latest := Month{}
		for m := range settled {
			if m.After(latest) {
				latest = m
			}
		}
		start = latest.Next()
	}

	// The horizon is the month before the current month: the
	// in-progress month is never settled.
	horizon := MonthOf(now, loc)

	schedule := Schedule{StartMonth: start, NoteByMonth: map[string]string{}}
	for cursor := start; horizon.After(cursor); cursor = cursor.Next() {
		if settled[cursor] {
			continue
		}
		schedule.MonthsToSettle = append(schedule.MonthsToSettle, cursor)
		schedule.NoteByMonth[cursor.Key()] = NoteFor(cursor, annualRate)
	}
	return schedule
}

// NoteFor renders the settlement note for a month, e.g.
// "2024年2月结息，利率 10%". The month is unpadded and the rate keeps
// whatever precision the settings carry.
func NoteFor(m Month, annualRate decimal.Decimal) string {
	return fmt.Sprintf("%d年%d月结息，利率 %s%%", m.Year, int(m.Month), annualRate.String())
}
