package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// GENERATION TESTS
// =============================================================================

func TestGenerate_SingleStudentWithFood(t *testing.T) {
	// GIVEN: One student, full-day tuition 10,000, food 500, no transport
	// WHEN: Generating the guardian's invoice
	// THEN: Total is 10,500 with one line item {tuition:10000, food:500}

	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay, IncludeFood: true})

	inv, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)
	require.NoError(t, err)

	assert.True(t, inv.TotalAmount.Equal(billing.NewMoney(10500)))
	assert.True(t, inv.AmountPaid.IsZero())
	assert.True(t, inv.BalanceDue.Equal(billing.NewMoney(10500)))
	assert.Equal(t, billing.StatusPending, inv.Status)
	assert.Equal(t, "INV-2025-00001", inv.InvoiceNumber)
	assert.Equal(t, actor, inv.GeneratedBy)
	assert.Equal(t, termEnd, inv.DueDate)

	items, err := f.store.LineItems(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, billing.StudentID("s-1"), items[0].StudentID)
	require.Len(t, items[0].Breakdown, 2)
	assert.True(t, items[0].Breakdown[billing.ComponentTuition].Equal(billing.NewMoney(10000)))
	assert.True(t, items[0].Breakdown[billing.ComponentFood].Equal(billing.NewMoney(500)))

	installments, err := f.store.Installments(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, installments, 1)
	assert.True(t, installments[0].Amount.Equal(billing.NewMoney(10500)))

	f.requireConsistent(t, inv.ID)
}

func TestGenerate_AllComponentsAcrossStudents(t *testing.T) {
	// GIVEN: Two students, one half-day with two-way transport and sports,
	//        one full-day with one-way transport
	// WHEN: Generating
	// THEN: Each line item prices only what was requested; total sums both

	f := newFixture(t)
	f.enroll(t, "g-1", "s-a", grade1, billing.FeePreference{
		TuitionMode: billing.TuitionHalfDay, TransportMode: billing.TransportTwoWay,
		TransportRouteID: route1, IncludeSports: true,
	})
	f.enroll(t, "g-1", "s-b", grade1, billing.FeePreference{
		TuitionMode: billing.TuitionFullDay, TransportMode: billing.TransportOneWay, TransportRouteID: route1,
	})

	inv, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanMonthly)
	require.NoError(t, err)

	// 6000+1500+300 + 10000+800
	assert.True(t, inv.TotalAmount.Equal(billing.NewMoney(18600)))

	items, err := f.store.LineItems(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	byStudent := map[billing.StudentID]billing.LineItem{}
	for _, item := range items {
		byStudent[item.StudentID] = item
	}
	assert.True(t, byStudent["s-a"].TotalAmount.Equal(billing.NewMoney(7800)))
	assert.True(t, byStudent["s-a"].Breakdown[billing.ComponentTransport].Equal(billing.NewMoney(1500)))
	assert.NotContains(t, byStudent["s-a"].Breakdown, billing.ComponentFood)
	assert.True(t, byStudent["s-b"].TotalAmount.Equal(billing.NewMoney(10800)))

	// Jan..Mar: three monthly installments
	installments, err := f.store.Installments(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, installments, 3)
	assert.True(t, installments[0].Amount.Equal(billing.NewMoney(6200)))

	f.requireConsistent(t, inv.ID)
}

func TestGenerate_SecondInvoiceForSameTerm_Duplicate(t *testing.T) {
	// GIVEN: Guardian already invoiced for the term
	// WHEN: Generating again
	// THEN: DuplicateInvoice, no second row

	f := newFixture(t)
	first := f.fullDayWithFood(t, "g-1")

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)
	var dupErr *billing.DuplicateInvoiceError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, billing.GuardianID("g-1"), dupErr.GuardianID)
	assert.Equal(t, billing.KindDuplicateInvoice, billing.ErrorKind(err))

	invoices, err := f.store.ListInvoices(f.ctx, school, term1)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, first.ID, invoices[0].ID)
}

func TestGenerate_InactiveTerm_Rejected(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term0, actor, billing.PlanFull)

	var termErr *billing.TermNotActiveError
	require.ErrorAs(t, err, &termErr)
	assert.Equal(t, term1, termErr.ActiveTermID)
	assert.False(t, termErr.Unknown)
}

func TestGenerate_UnknownTerm_RejectedAsUnknown(t *testing.T) {
	// GIVEN: A term id the school never defined
	// WHEN: Generating against it
	// THEN: TermNotActive that reports the term as unknown

	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", "term-typo", actor, billing.PlanFull)

	var termErr *billing.TermNotActiveError
	require.ErrorAs(t, err, &termErr)
	assert.True(t, termErr.Unknown)
	assert.Equal(t, term1, termErr.ActiveTermID)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Equal(t, billing.KindTermNotActive, billing.ErrorKind(err))
}

func TestGenerate_NoActiveTermAtAll_Rejected(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})
	require.NoError(t, f.store.SaveTerm(f.ctx, billing.Term{
		ID: term1, SchoolID: school, AcademicYearID: year, StartDate: termStart, EndDate: termEnd,
	}))

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)
	assert.ErrorIs(t, err, billing.ErrTermNotActive)
}

func TestGenerate_MissingConfiguration_NamesComponent(t *testing.T) {
	tests := []struct {
		name      string
		grade     billing.GradeID
		pref      billing.FeePreference
		component billing.Component
		key       string
	}{
		{"tuition", grade2, billing.FeePreference{TuitionMode: billing.TuitionFullDay}, billing.ComponentTuition, string(grade2)},
		{"transport", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay, TransportMode: billing.TransportOneWay, TransportRouteID: "route-x"}, billing.ComponentTransport, "route-x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.enroll(t, "g-1", "s-1", tt.grade, tt.pref)

			_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)

			var cfgErr *billing.MissingFeeConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.component, cfgErr.Component)
			assert.Equal(t, tt.key, cfgErr.Key)
			assert.Equal(t, billing.StudentID("s-1"), cfgErr.StudentID)
		})
	}
}

func TestGenerate_InactiveAddOnPrice_FailsClosed(t *testing.T) {
	// GIVEN: Sports requested, but the sports price is inactive
	// WHEN: Generating
	// THEN: MissingFeeConfiguration, sports is never silently dropped

	f := newFixture(t)
	require.NoError(t, f.store.SaveUniversalPrice(f.ctx, billing.UniversalPrice{
		SchoolID: school, FeeType: billing.FeeSports, YearID: year, Amount: billing.NewMoney(300), Active: false,
	}))
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay, IncludeSports: true})

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)

	var cfgErr *billing.MissingFeeConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, billing.ComponentSports, cfgErr.Component)
	assert.Equal(t, year, cfgErr.YearID)
}

func TestGenerate_OneStudentFails_NothingPersisted(t *testing.T) {
	// GIVEN: Two students, the second in a grade with no tuition price
	// WHEN: Generating
	// THEN: No invoice exists and the invoice number was not consumed

	f := newFixture(t)
	f.enroll(t, "g-1", "s-a", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})
	f.enroll(t, "g-1", "s-b", grade2, billing.FeePreference{TuitionMode: billing.TuitionFullDay})

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)
	require.ErrorIs(t, err, billing.ErrMissingFeeConfiguration)

	existing, err := f.store.FindInvoice(f.ctx, school, "g-1", term1)
	require.NoError(t, err)
	assert.Nil(t, existing)

	next := f.fullDayWithFood(t, "g-2")
	assert.Equal(t, "INV-2025-00001", next.InvoiceNumber)
}

func TestGenerate_MissingPreference(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveStudent(f.ctx, billing.Student{
		ID: "s-1", SchoolID: school, GuardianID: "g-1", GradeID: grade1, Active: true,
	}))

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)

	var prefErr *billing.MissingPreferenceError
	require.ErrorAs(t, err, &prefErr)
	assert.Equal(t, billing.StudentID("s-1"), prefErr.StudentID)
	assert.Equal(t, billing.KindMissingFeePreference, billing.ErrorKind(err))
}

func TestGenerate_TransportWithoutRoute_Validation(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay, TransportMode: billing.TransportTwoWay})

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestGenerate_UnknownPreferenceModes_Validation(t *testing.T) {
	// GIVEN: A preference whose tuition or transport mode is not a known mode
	// WHEN: Generating
	// THEN: Validation error naming the student, and no invoice is created

	tests := []struct {
		name  string
		pref  billing.FeePreference
		field string
	}{
		{"unknown tuition", billing.FeePreference{TuitionMode: "evening"}, "tuition_mode"},
		{"empty tuition", billing.FeePreference{}, "tuition_mode"},
		{"unknown transport", billing.FeePreference{
			TuitionMode: billing.TuitionFullDay, TransportMode: "three_way", TransportRouteID: route1,
		}, "transport_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.enroll(t, "g-1", "s-1", grade1, tt.pref)

			_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)

			var vErr *billing.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Contains(t, vErr.Message, "s-1")

			existing, err := f.store.FindInvoice(f.ctx, school, "g-1", term1)
			require.NoError(t, err)
			assert.Nil(t, existing)
		})
	}
}

func TestGenerate_NoActiveStudents_Validation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveStudent(f.ctx, billing.Student{
		ID: "s-1", SchoolID: school, GuardianID: "g-1", GradeID: grade1, Active: false,
	}))

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PlanFull)
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestGenerate_UnknownPlan_Validation(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})

	_, err := f.gen.GenerateInvoiceForGuardian(f.ctx, school, "g-1", term1, actor, billing.PaymentPlan("weekly"))
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestGenerate_InvoiceNumbersSequentialPerSchool(t *testing.T) {
	f := newFixture(t)
	a := f.fullDayWithFood(t, "g-1")
	b := f.fullDayWithFood(t, "g-2")

	assert.Equal(t, "INV-2025-00001", a.InvoiceNumber)
	assert.Equal(t, "INV-2025-00002", b.InvoiceNumber)
	assert.Equal(t, "INV-2024-00042", billing.FormatInvoiceNumber(2024, 42))
}
