package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
	"go.uber.org/zap"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	school billing.SchoolID       = "school-1"
	term1  billing.TermID         = "term-1"
	term0  billing.TermID         = "term-0"
	year   billing.AcademicYearID = "2025"
	grade1 billing.GradeID        = "grade-1"
	grade2 billing.GradeID        = "grade-2"
	route1 billing.RouteID        = "route-1"
	actor                         = "bursar-1"
)

var (
	termStart = time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)
	termEnd   = time.Date(2025, time.March, 28, 0, 0, 0, 0, time.UTC)
	today     = time.Date(2025, time.February, 15, 10, 30, 0, 0, time.UTC)
)

type fixture struct {
	ctx    context.Context
	store  *store.Memory
	gen    *billing.Generator
	bulk   *billing.BulkGenerator
	ledger *billing.PaymentLedger
	editor *billing.LineItemEditor
}

// newFixture seeds one school with an active term and a catalog:
// grade-1 tuition 10000/6000, food 500, sports 300, route-1 800/1500.
// grade-2 has no tuition price.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	mem := store.NewMemory()
	log := zap.NewNop()
	clock := func() time.Time { return today }

	require.NoError(t, mem.SaveTerm(ctx, billing.Term{
		ID: term0, SchoolID: school, AcademicYearID: year, Name: "Term 0",
		StartDate: termStart.AddDate(0, -4, 0), EndDate: termStart.AddDate(0, -1, 0),
	}))
	require.NoError(t, mem.SaveTerm(ctx, billing.Term{
		ID: term1, SchoolID: school, AcademicYearID: year, Name: "Term 1",
		StartDate: termStart, EndDate: termEnd, Active: true,
	}))
	require.NoError(t, mem.SaveTuitionPrice(ctx, billing.TuitionPrice{
		SchoolID: school, GradeID: grade1, YearID: year,
		FullDay: billing.NewMoney(10000), HalfDay: billing.NewMoney(6000), Active: true,
	}))
	require.NoError(t, mem.SaveUniversalPrice(ctx, billing.UniversalPrice{
		SchoolID: school, FeeType: billing.FeeFood, YearID: year, Amount: billing.NewMoney(500), Active: true,
	}))
	require.NoError(t, mem.SaveUniversalPrice(ctx, billing.UniversalPrice{
		SchoolID: school, FeeType: billing.FeeSports, YearID: year, Amount: billing.NewMoney(300), Active: true,
	}))
	require.NoError(t, mem.SaveTransportPrice(ctx, billing.TransportPrice{
		SchoolID: school, RouteID: route1, Name: "North loop",
		OneWay: billing.NewMoney(800), TwoWay: billing.NewMoney(1500), Active: true,
	}))

	gen := billing.NewGenerator(mem, log)
	gen.Now = clock
	ledger := billing.NewPaymentLedger(mem, log)
	ledger.Now = clock
	editor := billing.NewLineItemEditor(mem, log)
	editor.Now = clock

	return &fixture{
		ctx:    ctx,
		store:  mem,
		gen:    gen,
		bulk:   billing.NewBulkGenerator(gen, log),
		ledger: ledger,
		editor: editor,
	}
}

// enroll adds an active student with a term-1 preference.
func (f *fixture) enroll(t *testing.T, guardian billing.GuardianID, student billing.StudentID, grade billing.GradeID, pref billing.FeePreference) {
	t.Helper()
	require.NoError(t, f.store.SaveStudent(f.ctx, billing.Student{
		ID: student, SchoolID: school, GuardianID: guardian, GradeID: grade, Name: string(student), Active: true,
	}))
	pref.SchoolID = school
	pref.GuardianID = guardian
	pref.StudentID = student
	pref.TermID = term1
	require.NoError(t, f.store.SavePreference(f.ctx, pref))
}

// fullDayWithFood is the 10,500 household used throughout the ledger tests.
func (f *fixture) fullDayWithFood(t *testing.T, guardian billing.GuardianID) *billing.Invoice {
	t.Helper()
	f.enroll(t, guardian, billing.StudentID(string(guardian)+"-kid"), grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay, IncludeFood: true})
	inv, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, guardian, term1, actor, billing.PlanHalfHalf)
	require.NoError(t, err)
	return inv
}

func (f *fixture) pay(amount int64) billing.PaymentInput {
	return billing.PaymentInput{
		Amount:     billing.NewMoney(amount),
		Date:       today,
		Method:     billing.MethodCash,
		RecordedBy: actor,
	}
}

// requireConsistent checks the stored invoice against its line items and payments.
func (f *fixture) requireConsistent(t *testing.T, id billing.InvoiceID) billing.Invoice {
	t.Helper()
	inv, err := f.store.GetInvoice(f.ctx, school, id)
	require.NoError(t, err)
	require.NotNil(t, inv)

	items, err := f.store.LineItems(f.ctx, id)
	require.NoError(t, err)
	payments, err := f.store.Payments(f.ctx, id)
	require.NoError(t, err)

	total := billing.NewMoney(0)
	for _, item := range items {
		require.True(t, item.TotalAmount.Equal(item.Breakdown.Total()), "line item total must equal its breakdown")
		total = total.Add(item.TotalAmount)
	}
	paid := billing.NewMoney(0)
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	require.True(t, inv.TotalAmount.Equal(total), "total %s != Σ line items %s", inv.TotalAmount, total)
	require.True(t, inv.AmountPaid.Equal(paid), "paid %s != Σ payments %s", inv.AmountPaid, paid)
	require.True(t, inv.BalanceDue.Equal(total.Sub(paid)), "balance %s != total - paid", inv.BalanceDue)
	if inv.Status != billing.StatusOverdue {
		require.Equal(t, billing.DeriveStatus(paid, total), inv.Status)
	}
	return *inv
}
