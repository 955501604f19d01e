/*
handlers.go - HTTP API handlers for the fee engine

PURPOSE:
  Exposes invoice generation, payment recording and line item correction
  via REST. Handles HTTP request/response, JSON serialization and request
  shape validation, and delegates every business decision to the billing
  package.

ENDPOINTS (school-scoped, X-School-ID header required):
  Invoices:
    POST   /api/invoices/generate           Generate one guardian's invoice
    POST   /api/invoices/bulk-generate      Generate for many guardians
    GET    /api/invoices?term_id=           List invoices
    GET    /api/invoices/{id}               Invoice with items, schedule, payments
    DELETE /api/invoices/{id}               Administrative delete (cascades)
    POST   /api/invoices/{id}/recalculate   Rebuild stored totals
    PATCH  /api/invoices/{id}/line-items    Correct a pending invoice

  Payments:
    POST   /api/invoices/{id}/payments      Record a payment
    DELETE /api/payments/{id}               Remove a payment

  Reference data:
    GET    /api/terms/active                The school's active term
    POST   /api/catalog/import              Import a JSON fee schedule

TENANCY & ACTOR:
  X-School-ID scopes every read and write and is passed explicitly to the
  engine. X-Actor-ID (optional) is recorded as generated_by / recorded_by.

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable "kind":
  - 400: validation
  - 404: not_found
  - 409: duplicate_invoice, term_not_active, invalid_edit_state
  - 422: missing_fee_configuration, missing_fee_preference,
         payment_exceeds_balance, invalid_payment_date
  - 500: internal (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from persistence: the engine's transactional
// store plus the seeding and sweep operations used by scenarios and admin.
type Store interface {
	billing.TxStore
	billing.CatalogWriter
	billing.OverdueMarker
	SaveTerm(ctx context.Context, t billing.Term) error
	SaveStudent(ctx context.Context, s billing.Student) error
	SavePreference(ctx context.Context, p billing.FeePreference) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Generator *billing.Generator
	Bulk      *billing.BulkGenerator
	Ledger    *billing.PaymentLedger
	Editor    *billing.LineItemEditor
	Catalog   *factory.CatalogFactory
	Overdue   *OverdueScheduler
	Log       *zap.Logger
	Now       billing.Clock

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the billing services over store.
func NewHandler(store Store, log *zap.Logger) *Handler {
	gen := billing.NewGenerator(store, log.Named("generator"))
	h := &Handler{
		Store:     store,
		Generator: gen,
		Bulk:      billing.NewBulkGenerator(gen, log.Named("bulk")),
		Ledger:    billing.NewPaymentLedger(store, log.Named("ledger")),
		Editor:    billing.NewLineItemEditor(store, log.Named("editor")),
		Catalog:   factory.NewCatalogFactory(),
		Log:       log,
		Now:       time.Now,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	h.Overdue = NewOverdueScheduler(store, log.Named("overdue"))
	return h
}

// SetClock pins "today" for every service. Used by tests and demos.
func (h *Handler) SetClock(clock billing.Clock) {
	h.Now = clock
	h.Generator.Now = clock
	h.Ledger.Now = clock
	h.Editor.Now = clock
	h.Overdue.Now = clock
}

// =============================================================================
// INVOICE GENERATION
// =============================================================================

// GenerateInvoice creates one guardian's invoice for a term.
// POST /api/invoices/generate
func (h *Handler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	var req GenerateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	inv, err := h.Generator.GenerateInvoiceForGuardian(ctx, schoolID(ctx),
		billing.GuardianID(req.GuardianID), billing.TermID(req.TermID), actorID(ctx), billing.PaymentPlan(req.PaymentPlan))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto, err := h.invoiceDetail(ctx, *inv)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, GenerateInvoiceResponse{InvoiceID: string(inv.ID), Invoice: dto})
}

// BulkGenerate generates invoices for many guardians, isolating failures.
// POST /api/invoices/bulk-generate
func (h *Handler) BulkGenerate(w http.ResponseWriter, r *http.Request) {
	var req BulkGenerateRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	guardians := lo.Map(req.GuardianIDs, func(id string, _ int) billing.GuardianID { return billing.GuardianID(id) })
	result, err := h.Bulk.GenerateForGuardians(ctx, schoolID(ctx), guardians,
		billing.TermID(req.TermID), actorID(ctx), billing.PaymentPlan(req.PaymentPlan))
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		h.writeEngineError(w, r, err)
		return
	}

	// A cancelled run still reports what it finished.
	writeJSON(w, http.StatusOK, toBulkResponse(result))
}

// =============================================================================
// INVOICE QUERIES & ADMIN
// =============================================================================

// ListInvoices returns the school's invoices, optionally for one term.
// GET /api/invoices?term_id=
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoices, err := h.Store.ListInvoices(ctx, schoolID(ctx), billing.TermID(r.URL.Query().Get("term_id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(invoices, func(inv billing.Invoice, _ int) InvoiceDTO {
		return toInvoiceDTO(inv)
	}))
}

// GetInvoice returns an invoice with its line items, schedule and payments.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Store.GetInvoice(ctx, schoolID(ctx), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if inv == nil {
		h.writeEngineError(w, r, &billing.NotFoundError{Resource: "invoice", ID: string(id)})
		return
	}

	dto, err := h.invoiceDetail(ctx, *inv)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// DeleteInvoice removes an invoice with its line items and payments.
// DELETE /api/invoices/{id}
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	if err := h.Ledger.DeleteInvoice(ctx, schoolID(ctx), id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecalculateInvoice rebuilds an invoice's stored totals.
// POST /api/invoices/{id}/recalculate
func (h *Handler) RecalculateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.Ledger.Recalculate(ctx, schoolID(ctx), billing.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// UpdateLineItems replaces line item breakdowns on a pending invoice.
// PATCH /api/invoices/{id}/line-items
func (h *Handler) UpdateLineItems(w http.ResponseWriter, r *http.Request) {
	var req UpdateLineItemsRequest
	if !h.decode(w, r, &req) {
		return
	}

	edits := make([]billing.LineItemEdit, 0, len(req.Items))
	for _, item := range req.Items {
		breakdown := make(billing.Breakdown, len(item.Breakdown))
		for key, amount := range item.Breakdown {
			component, err := billing.ParseComponent(key)
			if err != nil {
				h.writeEngineError(w, r, err)
				return
			}
			breakdown[component] = amount
		}
		edits = append(edits, billing.LineItemEdit{LineItemID: billing.LineItemID(item.LineItemID), Breakdown: breakdown})
	}

	ctx := r.Context()
	inv, err := h.Editor.UpdateBreakdown(ctx, schoolID(ctx), billing.InvoiceID(chi.URLParam(r, "id")), edits)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateLineItemsResponse{
		NewTotal:   inv.TotalAmount,
		NewBalance: inv.BalanceDue,
		NewStatus:  string(inv.Status),
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment records a payment against an invoice.
// POST /api/invoices/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := billing.ParseDate(req.PaymentDate)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	ctx := r.Context()
	payment, inv, err := h.Ledger.RecordPayment(ctx, schoolID(ctx), billing.InvoiceID(chi.URLParam(r, "id")), billing.PaymentInput{
		Amount:     req.Amount,
		Date:       date,
		Method:     billing.PaymentMethod(req.Method),
		Reference:  req.Reference,
		RecordedBy: actorID(ctx),
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RecordPaymentResponse{
		PaymentID:  string(payment.ID),
		NewBalance: inv.BalanceDue,
		NewStatus:  string(inv.Status),
		Invoice:    toInvoiceDTO(*inv),
	})
}

// DeletePayment removes a payment and recalculates its invoice.
// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.Ledger.DeletePayment(ctx, schoolID(ctx), billing.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletePaymentResponse{NewBalance: inv.BalanceDue, NewStatus: string(inv.Status)})
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// GetActiveTerm returns the school's active term.
// GET /api/terms/active
func (h *Handler) GetActiveTerm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	term, err := h.Store.GetActiveTerm(ctx, schoolID(ctx))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if term == nil {
		h.writeEngineError(w, r, &billing.NotFoundError{Resource: "active term", ID: string(schoolID(ctx))})
		return
	}
	writeJSON(w, http.StatusOK, toTermDTO(*term))
}

// ImportCatalog imports a JSON fee schedule for the school.
// POST /api/catalog/import
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", billing.KindValidation, err)
		return
	}

	schedule, err := h.Catalog.ParseSchedule(body)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	ctx := r.Context()
	result, err := h.Catalog.Import(ctx, h.Store, schoolID(ctx), schedule)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.Log.Info("fee schedule imported",
		zap.String("school_id", string(schoolID(ctx))),
		zap.String("year_id", string(schedule.YearID)),
		zap.Int("tuition", result.Tuition),
		zap.Int("universal", result.Universal),
		zap.Int("transport", result.Transport))
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

// TriggerOverdueSweep runs the overdue sweep now.
// POST /api/admin/overdue
func (h *Handler) TriggerOverdueSweep(w http.ResponseWriter, r *http.Request) {
	run := h.Overdue.RunOnce(r.Context(), "manual")
	if run.Error != "" {
		writeError(w, http.StatusInternalServerError, "Overdue sweep failed", billing.KindInternal, nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListOverdueRuns returns recent sweeps, newest first.
// GET /api/admin/overdue/runs
func (h *Handler) ListOverdueRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Overdue.Runs())
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) invoiceDetail(ctx context.Context, inv billing.Invoice) (InvoiceDTO, error) {
	dto := toInvoiceDTO(inv)

	items, err := h.Store.LineItems(ctx, inv.ID)
	if err != nil {
		return dto, fmt.Errorf("load line items: %w", err)
	}
	installments, err := h.Store.Installments(ctx, inv.ID)
	if err != nil {
		return dto, fmt.Errorf("load installments: %w", err)
	}
	payments, err := h.Store.Payments(ctx, inv.ID)
	if err != nil {
		return dto, fmt.Errorf("load payments: %w", err)
	}

	dto.LineItems = lo.Map(items, toLineItemDTO)
	dto.Installments = lo.Map(installments, toInstallmentDTO)
	dto.Payments = lo.Map(payments, toPaymentDTO)
	return dto, nil
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", billing.KindValidation, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request", billing.KindValidation,
				lo.Map(verrs, func(fe validator.FieldError, _ int) string {
					return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
				}))
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", billing.KindValidation, err.Error())
		return false
	}
	return true
}

// statusForKind maps billing error kinds to HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case billing.KindValidation:
		return http.StatusBadRequest
	case billing.KindNotFound:
		return http.StatusNotFound
	case billing.KindDuplicateInvoice, billing.KindTermNotActive, billing.KindInvalidEditState:
		return http.StatusConflict
	case billing.KindMissingFeeConfig, billing.KindMissingFeePreference,
		billing.KindPaymentExceedsBalance, billing.KindInvalidPaymentDate:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := billing.ErrorKind(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err))
		writeError(w, status, "Internal error", kind, nil)
		return
	}
	writeError(w, status, err.Error(), kind, nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, kind string, details any) {
	resp := ErrorResponse{Error: message, Kind: kind}
	switch d := details.(type) {
	case nil:
	case error:
		resp.Details = d.Error()
	default:
		resp.Details = d
	}
	writeJSON(w, status, resp)
}
