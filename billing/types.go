/*
Package billing provides the guardian invoice generation and payment
reconciliation engine.

PURPOSE:
  Turns a guardian's per-student fee elections for an academic term into a
  priced invoice, and keeps the invoice's paid/balance/status consistent as
  payments are recorded or removed and as pending line items are corrected.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts, never floats
  - Closed enums: TuitionMode, TransportMode, FeeType, PaymentPlan,
    PaymentMethod, InvoiceStatus (parsed once at the boundary)
  - Aggregates: Invoice owns LineItems, Payments and Installments
  - Collaborator records: Term, Student, FeePreference (read-only here)

DESIGN PRINCIPLES:
  1. Derived state: AmountPaid, BalanceDue and Status are a cache of what
     Recalculate computes from line items and payments.
  2. Explicit tenant: every engine call takes a SchoolID.
  3. Precision: decimal.Decimal for all money.

SEE ALSO:
  - recalculate.go: the single routine that derives paid/balance/status
  - store.go: persistence interfaces
  - errors.go: error taxonomy
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SchoolID string
type GuardianID string
type StudentID string
type TermID string
type AcademicYearID string
type GradeID string
type RouteID string
type InvoiceID string
type LineItemID string
type PaymentID string

// =============================================================================
// MONEY
// =============================================================================

// NewMoney returns a whole-unit amount.
func NewMoney(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}

// =============================================================================
// CLOSED ENUMS
// =============================================================================

type TuitionMode string

const (
	TuitionFullDay TuitionMode = "full_day"
	TuitionHalfDay TuitionMode = "half_day"
)

func ParseTuitionMode(s string) (TuitionMode, error) {
	switch m := TuitionMode(s); m {
	case TuitionFullDay, TuitionHalfDay:
		return m, nil
	}
	return "", &ValidationError{Field: "tuition_mode", Message: fmt.Sprintf("unknown tuition mode %q", s)}
}

type TransportMode string

const (
	TransportNone   TransportMode = "none"
	TransportOneWay TransportMode = "one_way"
	TransportTwoWay TransportMode = "two_way"
)

func ParseTransportMode(s string) (TransportMode, error) {
	if s == "" {
		return TransportNone, nil
	}
	switch m := TransportMode(s); m {
	case TransportNone, TransportOneWay, TransportTwoWay:
		return m, nil
	}
	return "", &ValidationError{Field: "transport_mode", Message: fmt.Sprintf("unknown transport mode %q", s)}
}

// FeeType is a universal (grade-independent) catalog entry kind.
type FeeType string

const (
	FeeFood       FeeType = "food"
	FeeSports     FeeType = "sports"
	FeeLibrary    FeeType = "library"
	FeeTechnology FeeType = "technology"
)

func ParseFeeType(s string) (FeeType, error) {
	switch t := FeeType(s); t {
	case FeeFood, FeeSports, FeeLibrary, FeeTechnology:
		return t, nil
	}
	return "", &ValidationError{Field: "fee_type", Message: fmt.Sprintf("unknown fee type %q", s)}
}

type PaymentPlan string

const (
	PlanFull     PaymentPlan = "full"
	PlanHalfHalf PaymentPlan = "half_half"
	PlanMonthly  PaymentPlan = "monthly"
)

// ParsePaymentPlan defaults an empty plan to PlanFull.
func ParsePaymentPlan(s string) (PaymentPlan, error) {
	if s == "" {
		return PlanFull, nil
	}
	switch p := PaymentPlan(s); p {
	case PlanFull, PlanHalfHalf, PlanMonthly:
		return p, nil
	}
	return "", &ValidationError{Field: "plan", Message: fmt.Sprintf("unknown payment plan %q", s)}
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheque       PaymentMethod = "cheque"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case MethodCash, MethodMobileMoney, MethodBankTransfer, MethodCheque:
		return m, nil
	}
	return "", &ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", s)}
}

type InvoiceStatus string

const (
	StatusPending InvoiceStatus = "pending"
	StatusPartial InvoiceStatus = "partial"
	StatusPaid    InvoiceStatus = "paid"
	StatusOverdue InvoiceStatus = "overdue" // applied by the overdue sweep, never derived
)

// =============================================================================
// FEE BREAKDOWN
// =============================================================================

// Component is a named part of a line item's breakdown.
type Component string

const (
	ComponentTuition   Component = "tuition"
	ComponentTransport Component = "transport"
	ComponentFood      Component = "food"
	ComponentSports    Component = "sports"
)

// Components lists breakdown keys in their canonical order.
var Components = []Component{ComponentTuition, ComponentTransport, ComponentFood, ComponentSports}

func ParseComponent(s string) (Component, error) {
	for _, c := range Components {
		if string(c) == s {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "breakdown", Message: fmt.Sprintf("unknown fee component %q", s)}
}

// Breakdown maps a component to its amount.
type Breakdown map[Component]decimal.Decimal

// Total sums all component amounts.
func (b Breakdown) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range b {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// COLLABORATOR RECORDS (read-only to the engine)
// =============================================================================

type Term struct {
	ID             TermID
	SchoolID       SchoolID
	AcademicYearID AcademicYearID
	Name           string
	StartDate      time.Time
	EndDate        time.Time
	Active         bool
}

type Student struct {
	ID         StudentID
	SchoolID   SchoolID
	GuardianID GuardianID
	GradeID    GradeID
	Name       string
	Active     bool
}

type FeePreference struct {
	SchoolID         SchoolID
	GuardianID       GuardianID
	StudentID        StudentID
	TermID           TermID
	TuitionMode      TuitionMode
	TransportMode    TransportMode
	TransportRouteID RouteID
	IncludeFood      bool
	IncludeSports    bool
	Notes            string
}

// =============================================================================
// INVOICE AGGREGATE
// =============================================================================

type Invoice struct {
	ID            InvoiceID
	SchoolID      SchoolID
	GuardianID    GuardianID
	TermID        TermID
	InvoiceNumber string
	TotalAmount   decimal.Decimal
	AmountPaid    decimal.Decimal
	BalanceDue    decimal.Decimal
	Status        InvoiceStatus
	PaymentPlan   PaymentPlan
	DueDate       time.Time
	GeneratedBy   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type LineItem struct {
	ID          LineItemID
	InvoiceID   InvoiceID
	StudentID   StudentID
	Breakdown   Breakdown
	TotalAmount decimal.Decimal
}

type Payment struct {
	ID          PaymentID
	InvoiceID   InvoiceID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      PaymentMethod
	Reference   string
	RecordedBy  string
	CreatedAt   time.Time
}

// Installment is advisory scheduling metadata; payments are not matched to it.
type Installment struct {
	InvoiceID InvoiceID
	Sequence  int
	DueDate   time.Time
	Amount    decimal.Decimal
}
