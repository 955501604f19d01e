/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state against
	the SQLite store:
	- The active term and catalog are seeded
	- Invoices are generated with the right totals
	- Payments leave invoices in the described states

These tests double as integration tests of the engine over SQLite.
*/
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/store/sqlite"
	"go.uber.org/zap"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, zap.NewNop())
	h.SetClock(func() time.Time { return testNow })
	return h
}

func invoicesByGuardian(t *testing.T, h *Handler) map[billing.GuardianID]billing.Invoice {
	t.Helper()
	invoices, err := h.Store.ListInvoices(context.Background(), DemoSchool, demoTerm)
	require.NoError(t, err)
	return lo.KeyBy(invoices, func(inv billing.Invoice) billing.GuardianID { return inv.GuardianID })
}

func TestScenario_SingleStudent(t *testing.T) {
	// GIVEN: Single student scenario
	// WHEN: Loading the scenario
	// THEN: One 10,500 invoice exists with a 5,250 / 5,250 schedule

	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.LoadScenarioByID(ctx, "single-student"))

	invoices := invoicesByGuardian(t, h)
	require.Len(t, invoices, 1)
	inv := invoices["g-achieng"]
	assert.True(t, inv.TotalAmount.Equal(billing.NewMoney(10500)))
	assert.Equal(t, billing.StatusPending, inv.Status)
	assert.Equal(t, billing.PlanHalfHalf, inv.PaymentPlan)
	assert.Equal(t, "INV-2025-00001", inv.InvoiceNumber)

	items, err := h.Store.LineItems(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Breakdown[billing.ComponentTuition].Equal(billing.NewMoney(10000)))
	assert.True(t, items[0].Breakdown[billing.ComponentFood].Equal(billing.NewMoney(500)))

	installments, err := h.Store.Installments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, installments, 2)
	assert.True(t, installments[0].Amount.Equal(billing.NewMoney(5250)))
	assert.True(t, installments[1].Amount.Equal(billing.NewMoney(5250)))
}

func TestScenario_BulkTerm(t *testing.T) {
	// GIVEN: Bulk term scenario
	// WHEN: Loading it and bulk generating for every billable guardian
	// THEN: Two invoices are created and the unpriced grade is reported

	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.LoadScenarioByID(ctx, "bulk-term"))
	assert.Empty(t, invoicesByGuardian(t, h))

	result, err := h.Bulk.GenerateForGuardians(ctx, DemoSchool, nil, demoTerm, "test", billing.PlanFull)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, billing.GuardianID("g-okafor"), result.Errors[0].GuardianID)

	invoices := invoicesByGuardian(t, h)
	assert.True(t, invoices["g-wanjiru"].TotalAmount.Equal(billing.NewMoney(24300)))
	assert.True(t, invoices["g-mensah"].TotalAmount.Equal(billing.NewMoney(7200)))
}

func TestScenario_PartialPayments(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.LoadScenarioByID(ctx, "partial-payments"))

	invoices := invoicesByGuardian(t, h)
	require.Len(t, invoices, 3)
	assert.Equal(t, billing.StatusPending, invoices["g-pending"].Status)
	assert.Equal(t, billing.StatusPartial, invoices["g-partial"].Status)
	assert.True(t, invoices["g-partial"].BalanceDue.Equal(billing.NewMoney(5250)))
	assert.Equal(t, billing.StatusPaid, invoices["g-paid"].Status)
	assert.True(t, invoices["g-paid"].BalanceDue.IsZero())

	payments, err := h.Store.Payments(ctx, invoices["g-partial"].ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, billing.MethodMobileMoney, payments[0].Method)
	assert.Equal(t, "MPESA-QX81", payments[0].Reference)
}

func TestScenario_OverdueTerm(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.LoadScenarioByID(ctx, "overdue-term"))

	invoices := invoicesByGuardian(t, h)
	require.Len(t, invoices, 3)
	assert.Equal(t, billing.StatusOverdue, invoices["g-unpaid"].Status)
	assert.Equal(t, billing.StatusOverdue, invoices["g-partial"].Status)
	assert.Equal(t, billing.StatusPaid, invoices["g-settled"].Status)

	// Term ended 2025-02-08, so it began in 2024.
	assert.True(t, strings.HasPrefix(invoices["g-unpaid"].InvoiceNumber, "INV-2024-"))

	runs := h.Overdue.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Marked)
}

func TestScenario_ReloadReplacesData(t *testing.T) {
	// GIVEN: A loaded scenario
	// WHEN: Loading another one
	// THEN: Only the new scenario's data remains and numbering restarts

	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.LoadScenarioByID(ctx, "partial-payments"))
	require.NoError(t, h.LoadScenarioByID(ctx, "single-student"))

	invoices := invoicesByGuardian(t, h)
	require.Len(t, invoices, 1)
	assert.Equal(t, "INV-2025-00001", invoices["g-achieng"].InvoiceNumber)
	assert.Equal(t, "single-student", h.currentScenario)
}

func TestScenario_UnknownID(t *testing.T) {
	h := setupTestHandler(t)

	err := h.LoadScenarioByID(context.Background(), "no-such-scenario")

	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestScenarioEndpoints(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h, []string{"*"})

	call := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := call(http.MethodGet, "/api/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ScenarioDTO](t, rec), len(scenarios))

	rec = call(http.MethodGet, "/api/scenarios/current", "")
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = call(http.MethodPost, "/api/scenarios/load", `{"scenario_id": "single-student"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(http.MethodGet, "/api/scenarios/current", "")
	assert.Equal(t, "single-student", decodeAs[ScenarioDTO](t, rec).ID)

	requireError(t, call(http.MethodPost, "/api/scenarios/load", `{"scenario_id": "nope"}`), http.StatusBadRequest, billing.KindValidation)
	requireError(t, call(http.MethodPost, "/api/scenarios/load", `{}`), http.StatusBadRequest, billing.KindValidation)

	rec = call(http.MethodPost, "/api/scenarios/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, invoicesByGuardian(t, h))
	rec = call(http.MethodGet, "/api/scenarios/current", "")
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}
