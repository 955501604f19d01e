/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a demo school:
	an active term, guardians, students, fee preferences and the standard
	fee schedule. Some scenarios also generate invoices and record payments
	through the engine so the data is exactly what real usage produces.

AVAILABLE SCENARIOS:

	single-student:   One guardian, full day + food, half_half invoice
	bulk-term:        Three guardians ready for bulk generation, one in an unpriced grade
	partial-payments: Invoices in pending, partial and paid states
	overdue-term:     Term already ended; unpaid invoices swept to overdue

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Import the standard fee schedule via factory
 3. Save the term, students and preferences
 4. Optionally generate invoices and record payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-payments"}

	Every scenario seeds school "demo-school"; send X-School-ID: demo-school
	on the invoice endpoints afterwards.

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Invoice and payment endpoints
  - factory/presets.go: Standard fee schedule
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
	"go.uber.org/zap"
)

// DemoSchool is the school every scenario seeds.
const DemoSchool billing.SchoolID = "demo-school"

const (
	demoTerm  billing.TermID = "term-current"
	demoActor                = "scenario-loader"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-student",
		Name:        "Single Student",
		Description: "One guardian, full-day tuition with food, invoiced on a half_half plan (10,500 in two installments)",
		Category:    "generation",
	},
	{
		ID:          "bulk-term",
		Name:        "Bulk Term",
		Description: "Three guardians with preferences; one child is in a grade with no tuition price. Run bulk-generate for term-current",
		Category:    "generation",
	},
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "Three invoices: untouched, half paid by mobile money, fully paid in cash",
		Category:    "payments",
	},
	{
		ID:          "overdue-term",
		Name:        "Overdue Term",
		Description: "The active term ended last week; unpaid and partially paid invoices are marked overdue",
		Category:    "payments",
	},
}

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := lo.Find(scenarios, func(s ScenarioDTO) bool { return s.ID == current }); ok {
		writeJSON(w, http.StatusOK, s)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if billing.IsClientError(err) {
			h.writeEngineError(w, r, err)
			return
		}
		h.Log.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", billing.KindInternal, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "loaded",
		"scenario":  req.ScenarioID,
		"school_id": string(DemoSchool),
		"term_id":   string(demoTerm),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.Log.Error("reset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to reset database", billing.KindInternal, nil)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadScenarioByID resets the store and seeds the named scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"single-student":   h.loadSingleStudentScenario,
		"bulk-term":        h.loadBulkTermScenario,
		"partial-payments": h.loadPartialPaymentsScenario,
		"overdue-term":     h.loadOverdueTermScenario,
	}
	load, ok := loaders[id]
	if !ok {
		return &billing.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}
	h.currentScenario = id
	h.Log.Info("scenario loaded", zap.String("scenario", id), zap.String("school_id", string(DemoSchool)))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSingleStudentScenario(ctx context.Context) error {
	today := billing.DateOf(h.Now())
	if err := h.seedSchool(ctx, today.AddDate(0, 0, -30), today.AddDate(0, 0, 60)); err != nil {
		return err
	}

	if err := h.seedFamily(ctx, "g-achieng", familyChild{
		id: "s-achieng", name: "Achieng Otieno", grade: "grade-1",
		tuition: billing.TuitionFullDay, food: true,
	}); err != nil {
		return err
	}

	_, err := h.Generator.GenerateInvoiceForGuardian(ctx, DemoSchool, "g-achieng", demoTerm, demoActor, billing.PlanHalfHalf)
	return err
}

func (h *Handler) loadBulkTermScenario(ctx context.Context) error {
	today := billing.DateOf(h.Now())
	if err := h.seedSchool(ctx, today.AddDate(0, 0, -14), today.AddDate(0, 0, 76)); err != nil {
		return err
	}

	families := []struct {
		guardian billing.GuardianID
		children []familyChild
	}{
		{"g-wanjiru", []familyChild{
			{id: "s-wanjiru-1", name: "Njeri Wanjiru", grade: "grade-1", tuition: billing.TuitionFullDay, food: true},
			{id: "s-wanjiru-2", name: "Kamau Wanjiru", grade: "grade-3", tuition: billing.TuitionFullDay,
				transport: billing.TransportTwoWay, route: "route-north", sports: true},
		}},
		{"g-mensah", []familyChild{
			{id: "s-mensah", name: "Kofi Mensah", grade: "grade-2", tuition: billing.TuitionHalfDay,
				transport: billing.TransportOneWay, route: "route-east"},
		}},
		// grade-9 has no tuition price, so this guardian fails in bulk.
		{"g-okafor", []familyChild{
			{id: "s-okafor", name: "Chidi Okafor", grade: "grade-9", tuition: billing.TuitionFullDay},
		}},
	}
	for _, f := range families {
		if err := h.seedFamily(ctx, f.guardian, f.children...); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadPartialPaymentsScenario(ctx context.Context) error {
	today := billing.DateOf(h.Now())
	if err := h.seedSchool(ctx, today.AddDate(0, 0, -45), today.AddDate(0, 0, 45)); err != nil {
		return err
	}

	// 10,500 each: full day + food.
	guardians := []billing.GuardianID{"g-pending", "g-partial", "g-paid"}
	for i, g := range guardians {
		child := familyChild{
			id: billing.StudentID("s-" + strconv.Itoa(i+1)), name: "Student " + strconv.Itoa(i+1),
			grade: "grade-1", tuition: billing.TuitionFullDay, food: true,
		}
		if err := h.seedFamily(ctx, g, child); err != nil {
			return err
		}
	}

	invoices := make(map[billing.GuardianID]*billing.Invoice, len(guardians))
	for _, g := range guardians {
		inv, err := h.Generator.GenerateInvoiceForGuardian(ctx, DemoSchool, g, demoTerm, demoActor, billing.PlanHalfHalf)
		if err != nil {
			return err
		}
		invoices[g] = inv
	}

	if _, _, err := h.Ledger.RecordPayment(ctx, DemoSchool, invoices["g-partial"].ID, billing.PaymentInput{
		Amount: billing.NewMoney(5250), Date: today, Method: billing.MethodMobileMoney,
		Reference: "MPESA-QX81", RecordedBy: demoActor,
	}); err != nil {
		return err
	}
	_, _, err := h.Ledger.RecordPayment(ctx, DemoSchool, invoices["g-paid"].ID, billing.PaymentInput{
		Amount: invoices["g-paid"].BalanceDue, Date: today, Method: billing.MethodCash, RecordedBy: demoActor,
	})
	return err
}

func (h *Handler) loadOverdueTermScenario(ctx context.Context) error {
	today := billing.DateOf(h.Now())
	end := today.AddDate(0, 0, -7)
	if err := h.seedSchool(ctx, end.AddDate(0, 0, -90), end); err != nil {
		return err
	}

	// A zero paid amount leaves the invoice untouched; nil pays it off.
	accounts := []struct {
		guardian billing.GuardianID
		child    familyChild
		paid     *decimal.Decimal
	}{
		{"g-unpaid", familyChild{id: "s-late-1", name: "Baraka Mwangi", grade: "grade-2", tuition: billing.TuitionFullDay, sports: true}, lo.ToPtr(decimal.Zero)},
		{"g-partial", familyChild{id: "s-late-2", name: "Ama Boateng", grade: "grade-1", tuition: billing.TuitionHalfDay, food: true}, lo.ToPtr(billing.NewMoney(2000))},
		{"g-settled", familyChild{id: "s-late-3", name: "Tendai Moyo", grade: "grade-1", tuition: billing.TuitionHalfDay}, nil},
	}

	for _, a := range accounts {
		if err := h.seedFamily(ctx, a.guardian, a.child); err != nil {
			return err
		}
		inv, err := h.Generator.GenerateInvoiceForGuardian(ctx, DemoSchool, a.guardian, demoTerm, demoActor, billing.PlanMonthly)
		if err != nil {
			return err
		}

		amount := inv.BalanceDue
		if a.paid != nil {
			amount = *a.paid
		}
		if amount.IsZero() {
			continue
		}
		if _, _, err := h.Ledger.RecordPayment(ctx, DemoSchool, inv.ID, billing.PaymentInput{
			Amount: amount, Date: end.AddDate(0, 0, -30), Method: billing.MethodBankTransfer, RecordedBy: demoActor,
		}); err != nil {
			return err
		}
	}

	h.Overdue.RunOnce(ctx, "scenario")
	return nil
}

// =============================================================================
// SEED HELPERS
// =============================================================================

type familyChild struct {
	id        billing.StudentID
	name      string
	grade     billing.GradeID
	tuition   billing.TuitionMode
	transport billing.TransportMode
	route     billing.RouteID
	food      bool
	sports    bool
}

// seedSchool imports the standard fee schedule and saves the active term.
func (h *Handler) seedSchool(ctx context.Context, start, end time.Time) error {
	year := strconv.Itoa(start.Year())

	schedule, err := h.Catalog.ParseSchedule([]byte(factory.StandardScheduleJSON(year)))
	if err != nil {
		return fmt.Errorf("parse standard schedule: %w", err)
	}
	if _, err := h.Catalog.Import(ctx, h.Store, DemoSchool, schedule); err != nil {
		return err
	}

	return h.Store.SaveTerm(ctx, billing.Term{
		ID:             demoTerm,
		SchoolID:       DemoSchool,
		AcademicYearID: billing.AcademicYearID(year),
		Name:           fmt.Sprintf("Term %s-%02d", year, int(start.Month())),
		StartDate:      start,
		EndDate:        end,
		Active:         true,
	})
}

// seedFamily saves a guardian's children and their preferences for the demo term.
func (h *Handler) seedFamily(ctx context.Context, guardian billing.GuardianID, children ...familyChild) error {
	for _, c := range children {
		if err := h.Store.SaveStudent(ctx, billing.Student{
			ID: c.id, SchoolID: DemoSchool, GuardianID: guardian, GradeID: c.grade, Name: c.name, Active: true,
		}); err != nil {
			return fmt.Errorf("save student %s: %w", c.id, err)
		}

		transport := c.transport
		if transport == "" {
			transport = billing.TransportNone
		}
		if err := h.Store.SavePreference(ctx, billing.FeePreference{
			SchoolID:         DemoSchool,
			GuardianID:       guardian,
			StudentID:        c.id,
			TermID:           demoTerm,
			TuitionMode:      c.tuition,
			TransportMode:    transport,
			TransportRouteID: c.route,
			IncludeFood:      c.food,
			IncludeSports:    c.sports,
		}); err != nil {
			return fmt.Errorf("save preference for %s: %w", c.id, err)
		}
	}
	return nil
}
