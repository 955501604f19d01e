package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// BULK GENERATION TESTS
// =============================================================================

func TestBulk_OneGuardianMisconfigured_OthersSucceed(t *testing.T) {
	// GIVEN: Three guardians; g-2's student is in a grade with no tuition price
	// WHEN: Bulk-generating for all three
	// THEN: success 2, failed 1, skipped 0; only g-2 is in errors;
	//       the other two invoices exist with correct totals

	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay, IncludeFood: true})
	f.enroll(t, "g-2", "s-2", grade2, billing.FeePreference{TuitionMode: billing.TuitionFullDay})
	f.enroll(t, "g-3", "s-3", grade1, billing.FeePreference{TuitionMode: billing.TuitionHalfDay})

	result, err := f.bulk.GenerateForGuardians(f.ctx, school, []billing.GuardianID{"g-1", "g-2", "g-3"}, term1, actor, billing.PlanFull)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 0, result.SkippedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, billing.GuardianID("g-2"), result.Errors[0].GuardianID)
	assert.Equal(t, billing.KindMissingFeeConfig, result.Errors[0].Kind)
	assert.Contains(t, result.Errors[0].Message, string(grade2))
	assert.Len(t, result.Invoices, 2)

	inv1, err := f.store.FindInvoice(f.ctx, school, "g-1", term1)
	require.NoError(t, err)
	require.NotNil(t, inv1)
	assert.True(t, inv1.TotalAmount.Equal(billing.NewMoney(10500)))
	f.requireConsistent(t, inv1.ID)

	inv3, err := f.store.FindInvoice(f.ctx, school, "g-3", term1)
	require.NoError(t, err)
	require.NotNil(t, inv3)
	assert.True(t, inv3.TotalAmount.Equal(billing.NewMoney(6000)))

	missing, err := f.store.FindInvoice(f.ctx, school, "g-2", term1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBulk_AlreadyInvoiced_Skipped(t *testing.T) {
	f := newFixture(t)
	existing := f.fullDayWithFood(t, "g-1")
	f.enroll(t, "g-2", "s-2", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})

	result, err := f.bulk.GenerateForGuardians(f.ctx, school, []billing.GuardianID{"g-1", "g-2", "g-1"}, term1, actor, billing.PlanFull)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, 1, result.SkippedCount, "duplicate ids in the request are processed once")
	assert.Empty(t, result.Errors)

	unchanged, err := f.store.GetInvoice(f.ctx, school, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.InvoiceNumber, unchanged.InvoiceNumber)
}

func TestBulk_EmptyList_BillsEveryGuardianWithActiveStudents(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})
	f.enroll(t, "g-2", "s-2", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})
	f.enroll(t, "g-2", "s-3", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay, IncludeSports: true})
	require.NoError(t, f.store.SaveStudent(f.ctx, billing.Student{
		ID: "s-gone", SchoolID: school, GuardianID: "g-left", GradeID: grade1, Active: false,
	}))

	result, err := f.bulk.GenerateForGuardians(f.ctx, school, nil, term1, actor, billing.PlanHalfHalf)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)

	invoices, err := f.store.ListInvoices(f.ctx, school, term1)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	for _, inv := range invoices {
		assert.Equal(t, billing.PlanHalfHalf, inv.PaymentPlan)
		f.requireConsistent(t, inv.ID)
	}
}

func TestBulk_TermNotActive_RejectsRun(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})

	result, err := f.bulk.GenerateForGuardians(f.ctx, school, []billing.GuardianID{"g-1"}, term0, actor, billing.PlanFull)

	assert.ErrorIs(t, err, billing.ErrTermNotActive)
	assert.Zero(t, result.SuccessCount+result.FailedCount+result.SkippedCount)
}

func TestBulk_CancelledContext_StopsBetweenGuardians(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	result, err := f.bulk.GenerateForGuardians(ctx, school, []billing.GuardianID{"g-1"}, term1, actor, billing.PlanFull)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, result.SuccessCount)
}

func TestBulk_MixedFailureKinds_AllRecorded(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "g-1", "s-1", grade1, billing.FeePreference{TuitionMode: billing.TuitionFullDay})
	require.NoError(t, f.store.SaveStudent(f.ctx, billing.Student{
		ID: "s-nopref", SchoolID: school, GuardianID: "g-2", GradeID: grade1, Active: true,
	}))

	result, err := f.bulk.GenerateForGuardians(f.ctx, school,
		[]billing.GuardianID{"g-1", "g-2", "g-nobody"}, term1, actor, billing.PlanFull)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.FailedCount)
	kinds := map[billing.GuardianID]string{}
	for _, e := range result.Errors {
		kinds[e.GuardianID] = e.Kind
	}
	assert.Equal(t, billing.KindMissingFeePreference, kinds["g-2"])
	assert.Equal(t, billing.KindValidation, kinds["g-nobody"])
}
