package billing_test

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
)

func amounts(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = billing.NewMoney(v)
	}
	return out
}

func scheduleAmounts(total decimal.Decimal, plan billing.PaymentPlan, start, end time.Time) []decimal.Decimal {
	return lo.Map(billing.Schedule(total, plan, start, end), func(inst billing.Installment, _ int) decimal.Decimal {
		return inst.Amount
	})
}

func assertAmounts(t *testing.T, want, got []decimal.Decimal) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "installment %d: want %s, got %s", i+1, want[i], got[i])
	}
}

func TestSchedule_HalfHalf_EvenTotal(t *testing.T) {
	got := scheduleAmounts(billing.NewMoney(10500), billing.PlanHalfHalf, termStart, termEnd)
	assertAmounts(t, amounts(5250, 5250), got)
}

func TestSchedule_HalfHalf_OddTotal_SecondAbsorbsRemainder(t *testing.T) {
	// round(10001/2) = 5001, second = 5000
	got := scheduleAmounts(billing.NewMoney(10001), billing.PlanHalfHalf, termStart, termEnd)
	assertAmounts(t, amounts(5001, 5000), got)
}

func TestSchedule_Full(t *testing.T) {
	installments := billing.Schedule(billing.NewMoney(7777), billing.PlanFull, termStart, termEnd)
	require.Len(t, installments, 1)
	assert.True(t, installments[0].Amount.Equal(billing.NewMoney(7777)))
	assert.Equal(t, termStart, installments[0].DueDate)
	assert.Equal(t, 1, installments[0].Sequence)
}

func TestSchedule_Monthly_LastAbsorbsRemainder(t *testing.T) {
	// Jan 6 - Mar 28 touches three months: floor(10000/3) = 3333
	got := billing.Schedule(billing.NewMoney(10000), billing.PlanMonthly, termStart, termEnd)
	require.Len(t, got, 3)
	assertAmounts(t, amounts(3333, 3333, 3334), []decimal.Decimal{got[0].Amount, got[1].Amount, got[2].Amount})

	assert.Equal(t, time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC), got[0].DueDate)
	assert.Equal(t, time.Date(2025, time.February, 6, 0, 0, 0, 0, time.UTC), got[1].DueDate)
	assert.Equal(t, time.Date(2025, time.March, 6, 0, 0, 0, 0, time.UTC), got[2].DueDate)
}

func TestSchedule_Monthly_MonthEndStart_OneDuePerMonth(t *testing.T) {
	// GIVEN: A term starting on the 31st of January
	// WHEN: Scheduling monthly
	// THEN: Each due date falls in its own month, clamped to the month's last day

	start := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.May, 30, 0, 0, 0, 0, time.UTC)

	got := billing.Schedule(billing.NewMoney(5000), billing.PlanMonthly, start, end)

	want := []time.Time{
		time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.May, 30, 0, 0, 0, 0, time.UTC),
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i].DueDate, "installment %d", i+1)
	}
}

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		from time.Time
		n    int
		want time.Time
	}{
		{time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, time.October, 31, 0, 0, 0, 0, time.UTC), 4, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC), 0, time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, billing.AddMonthsClamped(tt.from, tt.n), "%s + %d", tt.from.Format(billing.DateLayout), tt.n)
	}
}

func TestSchedule_Monthly_SingleMonthTerm(t *testing.T) {
	start := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.May, 20, 0, 0, 0, 0, time.UTC)
	got := scheduleAmounts(billing.NewMoney(999), billing.PlanMonthly, start, end)
	assertAmounts(t, amounts(999), got)
}

func TestSchedule_Monthly_EndBeforeStart_AtLeastOne(t *testing.T) {
	got := scheduleAmounts(billing.NewMoney(100), billing.PlanMonthly, termEnd, termStart)
	assertAmounts(t, amounts(100), got)
}

func TestSchedule_SumIsAlwaysExact(t *testing.T) {
	plans := []billing.PaymentPlan{billing.PlanFull, billing.PlanHalfHalf, billing.PlanMonthly}
	yearEnd := time.Date(2025, time.December, 19, 0, 0, 0, 0, time.UTC)

	for _, total := range []int64{0, 1, 2, 3, 11, 999, 10500, 123457} {
		for _, plan := range plans {
			sum := decimal.Zero
			for _, a := range scheduleAmounts(billing.NewMoney(total), plan, termStart, yearEnd) {
				assert.False(t, a.IsNegative(), "plan %s total %d produced a negative installment", plan, total)
				sum = sum.Add(a)
			}
			assert.True(t, sum.Equal(billing.NewMoney(total)), "plan %s total %d summed to %s", plan, total, sum)
		}
	}
}

func TestMonthsSpanned(t *testing.T) {
	assert.Equal(t, 3, billing.MonthsSpanned(termStart, termEnd))
	assert.Equal(t, 13, billing.MonthsSpanned(
		time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)))
}
