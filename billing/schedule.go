package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT PLAN SCHEDULER
// =============================================================================

// Schedule splits total into advisory installments for plan over the term.
// Amounts are whole currency units and always sum to exactly total:
//
//	full      -> [total] due at term start
//	half_half -> [round(total/2), remainder] due at term start and midpoint
//	monthly   -> N x floor(total/N), last absorbs remainder; N = months touched by the term
//
// The returned installments carry no InvoiceID.
func Schedule(total decimal.Decimal, plan PaymentPlan, termStart, termEnd time.Time) []Installment {
	start := DateOf(termStart)
	end := DateOf(termEnd)

	switch plan {
	case PlanHalfHalf:
		first := total.Div(decimal.NewFromInt(2)).Round(0)
		midpoint := DateOf(start.Add(end.Sub(start) / 2))
		return []Installment{
			{Sequence: 1, DueDate: start, Amount: first},
			{Sequence: 2, DueDate: midpoint, Amount: total.Sub(first)},
		}

	case PlanMonthly:
		n := MonthsSpanned(start, end)
		each := total.Div(decimal.NewFromInt(int64(n))).Floor()
		installments := make([]Installment, n)
		allocated := decimal.Zero
		for i := 0; i < n; i++ {
			amount := each
			if i == n-1 {
				amount = total.Sub(allocated)
			}
			allocated = allocated.Add(amount)
			due := AddMonthsClamped(start, i)
			if due.After(end) {
				due = end
			}
			installments[i] = Installment{Sequence: i + 1, DueDate: due, Amount: amount}
		}
		return installments

	default:
		return []Installment{{Sequence: 1, DueDate: start, Amount: total}}
	}
}
