/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation results wrapping DTOs

MONEY:
  Amounts are decimal strings ("10500", "5250.50") in both directions.
  Requests also accept JSON numbers.

DATES:
  Calendar dates are "YYYY-MM-DD". Timestamps are RFC 3339.

VALIDATION:
  Request shapes are checked with go-playground/validator struct tags before
  the handler converts them. Business rules (amount ≤ balance, payment date
  not in the future, edit only while pending) stay in the billing package.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// REQUESTS
// =============================================================================

type GenerateInvoiceRequest struct {
	GuardianID  string `json:"guardian_id" validate:"required"`
	TermID      string `json:"term_id" validate:"required"`
	PaymentPlan string `json:"plan" validate:"omitempty,oneof=full half_half monthly"`
}

// BulkGenerateRequest with no guardian_ids bills every guardian that has an
// active student.
type BulkGenerateRequest struct {
	TermID      string   `json:"term_id" validate:"required"`
	PaymentPlan string   `json:"plan" validate:"omitempty,oneof=full half_half monthly"`
	GuardianIDs []string `json:"guardian_ids,omitempty" validate:"omitempty,dive,required"`
}

type RecordPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"date" validate:"required,datetime=2006-01-02"`
	Method      string          `json:"method" validate:"required,oneof=cash mobile_money bank_transfer cheque"`
	Reference   string          `json:"reference,omitempty" validate:"max=120"`
}

type LineItemEditRequest struct {
	LineItemID string                     `json:"line_item_id" validate:"required"`
	Breakdown  map[string]decimal.Decimal `json:"breakdown" validate:"required"`
}

type UpdateLineItemsRequest struct {
	Items []LineItemEditRequest `json:"items" validate:"required,min=1,dive"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type InvoiceDTO struct {
	ID            string           `json:"id"`
	InvoiceNumber string           `json:"invoice_number"`
	GuardianID    string           `json:"guardian_id"`
	TermID        string           `json:"term_id"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	AmountPaid    decimal.Decimal  `json:"amount_paid"`
	BalanceDue    decimal.Decimal  `json:"balance_due"`
	Status        string           `json:"status"`
	PaymentPlan   string           `json:"payment_plan"`
	DueDate       string           `json:"due_date"`
	GeneratedBy   string           `json:"generated_by,omitempty"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
	LineItems     []LineItemDTO    `json:"line_items,omitempty"`
	Installments  []InstallmentDTO `json:"installments,omitempty"`
	Payments      []PaymentDTO     `json:"payments,omitempty"`
}

type LineItemDTO struct {
	ID          string                     `json:"id"`
	StudentID   string                     `json:"student_id"`
	Breakdown   map[string]decimal.Decimal `json:"breakdown"`
	TotalAmount decimal.Decimal            `json:"total_amount"`
}

type InstallmentDTO struct {
	Sequence int             `json:"sequence"`
	DueDate  string          `json:"due_date"`
	Amount   decimal.Decimal `json:"amount"`
}

type PaymentDTO struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	Method      string          `json:"method"`
	Reference   string          `json:"reference,omitempty"`
	RecordedBy  string          `json:"recorded_by,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

type GenerateInvoiceResponse struct {
	InvoiceID string     `json:"invoice_id"`
	Invoice   InvoiceDTO `json:"invoice"`
}

type BulkGenerateResponse struct {
	SuccessCount int                `json:"success_count"`
	FailedCount  int                `json:"failed_count"`
	SkippedCount int                `json:"skipped_count"`
	Errors       []GuardianErrorDTO `json:"errors"`
	InvoiceIDs   []string           `json:"invoice_ids"`
}

type GuardianErrorDTO struct {
	GuardianID string `json:"guardian_id"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

type RecordPaymentResponse struct {
	PaymentID  string          `json:"payment_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
	NewStatus  string          `json:"new_status"`
	Invoice    InvoiceDTO      `json:"invoice"`
}

type DeletePaymentResponse struct {
	NewBalance decimal.Decimal `json:"new_balance"`
	NewStatus  string          `json:"new_status"`
}

type UpdateLineItemsResponse struct {
	NewTotal   decimal.Decimal `json:"new_total"`
	NewBalance decimal.Decimal `json:"new_balance"`
	NewStatus  string          `json:"new_status"`
}

type TermDTO struct {
	ID             string `json:"id"`
	AcademicYearID string `json:"academic_year_id"`
	Name           string `json:"name"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Active         bool   `json:"active"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// OverdueRunDTO is one overdue sweep, manual or scheduled.
type OverdueRunDTO struct {
	RanAt   string `json:"ran_at"`
	AsOf    string `json:"as_of"`
	Marked  int    `json:"marked"`
	Trigger string `json:"trigger"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is the standard error response. Kind is one of the
// billing.Kind* values.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:            string(inv.ID),
		InvoiceNumber: inv.InvoiceNumber,
		GuardianID:    string(inv.GuardianID),
		TermID:        string(inv.TermID),
		TotalAmount:   inv.TotalAmount,
		AmountPaid:    inv.AmountPaid,
		BalanceDue:    inv.BalanceDue,
		Status:        string(inv.Status),
		PaymentPlan:   string(inv.PaymentPlan),
		DueDate:       inv.DueDate.Format(billing.DateLayout),
		GeneratedBy:   inv.GeneratedBy,
		CreatedAt:     formatTimestamp(inv.CreatedAt),
		UpdatedAt:     formatTimestamp(inv.UpdatedAt),
	}
}

func toLineItemDTO(item billing.LineItem, _ int) LineItemDTO {
	breakdown := make(map[string]decimal.Decimal, len(item.Breakdown))
	for k, v := range item.Breakdown {
		breakdown[string(k)] = v
	}
	return LineItemDTO{
		ID:          string(item.ID),
		StudentID:   string(item.StudentID),
		Breakdown:   breakdown,
		TotalAmount: item.TotalAmount,
	}
}

func toInstallmentDTO(inst billing.Installment, _ int) InstallmentDTO {
	return InstallmentDTO{
		Sequence: inst.Sequence,
		DueDate:  inst.DueDate.Format(billing.DateLayout),
		Amount:   inst.Amount,
	}
}

func toPaymentDTO(p billing.Payment, _ int) PaymentDTO {
	return PaymentDTO{
		ID:          string(p.ID),
		InvoiceID:   string(p.InvoiceID),
		Amount:      p.Amount,
		PaymentDate: p.PaymentDate.Format(billing.DateLayout),
		Method:      string(p.Method),
		Reference:   p.Reference,
		RecordedBy:  p.RecordedBy,
		CreatedAt:   formatTimestamp(p.CreatedAt),
	}
}

func toTermDTO(t billing.Term) TermDTO {
	return TermDTO{
		ID:             string(t.ID),
		AcademicYearID: string(t.AcademicYearID),
		Name:           t.Name,
		StartDate:      t.StartDate.Format(billing.DateLayout),
		EndDate:        t.EndDate.Format(billing.DateLayout),
		Active:         t.Active,
	}
}

func toBulkResponse(r billing.BulkResult) BulkGenerateResponse {
	return BulkGenerateResponse{
		SuccessCount: r.SuccessCount,
		FailedCount:  r.FailedCount,
		SkippedCount: r.SkippedCount,
		Errors: lo.Map(r.Errors, func(e billing.GuardianError, _ int) GuardianErrorDTO {
			return GuardianErrorDTO{GuardianID: string(e.GuardianID), Kind: e.Kind, Message: e.Message}
		}),
		InvoiceIDs: lo.Map(r.Invoices, func(id billing.InvoiceID, _ int) string { return string(id) }),
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
