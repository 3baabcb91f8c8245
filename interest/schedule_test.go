package interest_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprout/allowance-ledger/interest"
	"github.com/sprout/allowance-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func loadLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func depositAt(at time.Time, amount string) ledger.Transaction {
	return ledger.Transaction{
		ID:        "dep-" + at.Format("20060102"),
		AccountID: "acct-1",
		Type:      ledger.TxDeposit,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "CNY",
		Note:      "零花钱",
		CreatedAt: at,
	}
}

func interestAt(at time.Time, note, interestMonth string) ledger.Transaction {
	return ledger.Transaction{
		ID:            "int-" + at.Format("20060102"),
		AccountID:     "acct-1",
		Type:          ledger.TxInterest,
		Amount:        decimal.RequireFromString("0.42"),
		Currency:      "CNY",
		Note:          note,
		InterestMonth: interestMonth,
		CreatedAt:     at,
	}
}

func monthKeys(months []interest.Month) []string {
	keys := make([]string, 0, len(months))
	for _, m := range months {
		keys = append(keys, m.Key())
	}
	return keys
}

// =============================================================================
// BUILD SCHEDULE
// =============================================================================

func TestBuildSchedule_EmptyHistory_NothingToSettle(t *testing.T) {
	loc := loadLoc(t, "Asia/Shanghai")
	now := time.Date(2024, 4, 10, 12, 0, 0, 0, loc)

	s := interest.BuildSchedule(nil, now, decimal.NewFromInt(10), loc)

	assert.Empty(t, s.MonthsToSettle)
	assert.Empty(t, s.NoteByMonth)
}

func TestBuildSchedule_FreshAccount_WalksFromFirstTransactionMonth(t *testing.T) {
	// GIVEN: a single deposit on 2024-01-15, no interest rows yet
	// WHEN: the schedule is built on 2024-04-10
	// THEN: Jan, Feb and Mar are due; April (in progress) is not
	loc := loadLoc(t, "Asia/Singapore")
	now := time.Date(2024, 4, 10, 12, 0, 0, 0, loc)
	txns := []ledger.Transaction{
		depositAt(time.Date(2024, 1, 15, 10, 0, 0, 0, loc), "100"),
	}

	s := interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)

	assert.Equal(t, "2024-01", s.StartMonth.Key())
	assert.Equal(t, []string{"2024-01", "2024-02", "2024-03"}, monthKeys(s.MonthsToSettle))
	assert.Equal(t, "2024年2月结息，利率 10%", s.NoteByMonth["2024-02"])
}

func TestBuildSchedule_ResumesAfterLegacyNoteRow(t *testing.T) {
	// A pre-migration interest row carries its month only in note text.
	// The walk must resume after it, not after the row's created_at.
	loc := loadLoc(t, "Asia/Singapore")
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)
	txns := []ledger.Transaction{
		depositAt(time.Date(2024, 1, 15, 10, 0, 0, 0, loc), "100"),
		interestAt(time.Date(2024, 3, 1, 2, 0, 0, 0, loc), "2024年2月结息，利率 8%", ""),
	}

	s := interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)

	assert.Equal(t, "2024-03", s.StartMonth.Key())
	assert.Equal(t, []string{"2024-03", "2024-04"}, monthKeys(s.MonthsToSettle))
}

func TestBuildSchedule_SkipsAlreadySettledMonths(t *testing.T) {
	// Settled months scattered through history must be skipped while
	// the walk still covers the gaps up to the horizon.
	loc := loadLoc(t, "Asia/Singapore")
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)
	txns := []ledger.Transaction{
		depositAt(time.Date(2024, 1, 15, 10, 0, 0, 0, loc), "100"),
		interestAt(time.Date(2024, 4, 1, 2, 0, 0, 0, loc), "2024年3月结息，利率 10%", "2024-03-01"),
	}

	s := interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)

	assert.Equal(t, []string{"2024-04"}, monthKeys(s.MonthsToSettle))
}

func TestBuildSchedule_StructuredMonthBeatsNoteAndCreatedAt(t *testing.T) {
	// The interest_month tag wins even when note text and created_at
	// both point elsewhere.
	loc := loadLoc(t, "Asia/Shanghai")
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, loc)
	txns := []ledger.Transaction{
		depositAt(time.Date(2024, 1, 15, 10, 0, 0, 0, loc), "100"),
		// tag Apr, note says Feb, created in May
		interestAt(time.Date(2024, 5, 3, 2, 0, 0, 0, loc), "2024年2月结息，利率 10%", "2024-04-01"),
	}

	s := interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)

	assert.Equal(t, "2024-05", s.StartMonth.Key())
	assert.Equal(t, []string{"2024-05"}, monthKeys(s.MonthsToSettle))
}

func TestBuildSchedule_UntaggedUnparsableNote_FallsBackToCreatedAt(t *testing.T) {
	loc := loadLoc(t, "Asia/Shanghai")
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)
	txns := []ledger.Transaction{
		depositAt(time.Date(2024, 1, 15, 10, 0, 0, 0, loc), "100"),
		interestAt(time.Date(2024, 2, 20, 2, 0, 0, 0, loc), "manual adjustment", ""),
	}

	s := interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)

	// The Feb row claims Feb via created_at, so the walk resumes in Mar.
	assert.Equal(t, []string{"2024-03", "2024-04"}, monthKeys(s.MonthsToSettle))
}

func TestBuildSchedule_CurrentMonthNeverSettled(t *testing.T) {
	loc := loadLoc(t, "Asia/Shanghai")
	txns := []ledger.Transaction{
		depositAt(time.Date(2024, 4, 1, 10, 0, 0, 0, loc), "100"),
	}

	// Even on the last day of the month, the in-progress month waits.
	now := time.Date(2024, 4, 30, 23, 59, 0, 0, loc)
	s := interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)
	assert.Empty(t, s.MonthsToSettle)

	// One instant into May it becomes due.
	now = time.Date(2024, 5, 1, 0, 0, 1, 0, loc)
	s = interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)
	assert.Equal(t, []string{"2024-04"}, monthKeys(s.MonthsToSettle))
}

func TestBuildSchedule_TimezoneDecidesMonthBucketing(t *testing.T) {
	// 2024-01-31 23:00 UTC is already February in Shanghai (UTC+8).
	loc := loadLoc(t, "Asia/Shanghai")
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, loc)
	txns := []ledger.Transaction{
		depositAt(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC), "100"),
	}

	s := interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)

	assert.Equal(t, "2024-02", s.StartMonth.Key())
	assert.Equal(t, []string{"2024-02"}, monthKeys(s.MonthsToSettle))
}

func TestBuildSchedule_YearBoundary(t *testing.T) {
	loc := loadLoc(t, "Asia/Shanghai")
	now := time.Date(2025, 2, 5, 12, 0, 0, 0, loc)
	txns := []ledger.Transaction{
		depositAt(time.Date(2024, 11, 20, 10, 0, 0, 0, loc), "100"),
	}

	s := interest.BuildSchedule(txns, now, decimal.NewFromInt(10), loc)

	assert.Equal(t, []string{"2024-11", "2024-12", "2025-01"}, monthKeys(s.MonthsToSettle))
}

// =============================================================================
// NOTE FORMAT
// =============================================================================

func TestNoteFor_UnpaddedMonthAndRatePrecision(t *testing.T) {
	assert.Equal(t, "2024年2月结息，利率 10%",
		interest.NoteFor(interest.Month{Year: 2024, Month: time.February}, decimal.NewFromInt(10)))
	assert.Equal(t, "2024年12月结息，利率 3.5%",
		interest.NoteFor(interest.Month{Year: 2024, Month: time.December}, decimal.RequireFromString("3.5")))
}

func TestParseLegacyNote(t *testing.T) {
	m, ok := interest.ParseLegacyNote("2024年2月结息，利率 8%")
	require.True(t, ok)
	assert.Equal(t, "2024-02", m.Key())

	_, ok = interest.ParseLegacyNote("零花钱")
	assert.False(t, ok)

	_, ok = interest.ParseLegacyNote("2024年13月结息")
	assert.False(t, ok)
}

func TestMonth_Walk(t *testing.T) {
	dec := interest.Month{Year: 2024, Month: time.December}
	jan := dec.Next()
	assert.Equal(t, "2025-01", jan.Key())
	assert.Equal(t, "2025-01-01", jan.Date())
	assert.True(t, jan.After(dec))
	assert.False(t, dec.After(jan))
}
