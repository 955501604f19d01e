/*
errors.go - Error taxonomy for the billing engine

PURPOSE:
  All business errors in one place. Every structured error unwraps to a
  sentinel so callers can branch with errors.Is, and the HTTP layer can map
  a stable kind string to a status code.

ERROR CATEGORIES:
  1. Client errors - malformed input, invalid state, rule violations
  2. Configuration gaps - catalog or preference missing for a student
  3. Not found - unknown invoice, payment, line item, term
  Anything else (storage outage) is an infrastructure error and is surfaced
  unchanged.

SEE ALSO:
  - api/handlers.go: statusForKind maps kinds to HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation              = errors.New("validation failed")
	ErrMissingFeeConfiguration = errors.New("missing fee configuration")
	ErrMissingFeePreference    = errors.New("missing fee preference")
	ErrDuplicateInvoice        = errors.New("invoice already exists for guardian and term")
	ErrTermNotActive           = errors.New("term is not the active term")
	ErrInvalidEditState        = errors.New("invoice cannot be edited in its current state")
	ErrPaymentExceedsBalance   = errors.New("payment exceeds balance due")
	ErrInvalidPaymentDate      = errors.New("invalid payment date")
	ErrNotFound                = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError is caller-supplied input that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MissingFeeConfigError names the catalog gap. Key is the grade, fee type or
// route; YearID is empty for transport, which is not year-scoped.
type MissingFeeConfigError struct {
	Component Component
	Key       string
	YearID    AcademicYearID
	StudentID StudentID
}

func (e *MissingFeeConfigError) Error() string {
	msg := fmt.Sprintf("no active %s price for %q", e.Component, e.Key)
	if e.YearID != "" {
		msg += fmt.Sprintf(" in academic year %q", e.YearID)
	}
	if e.StudentID != "" {
		msg += fmt.Sprintf(" (student %s)", e.StudentID)
	}
	return msg
}

func (e *MissingFeeConfigError) Unwrap() error { return ErrMissingFeeConfiguration }

type MissingPreferenceError struct {
	GuardianID GuardianID
	StudentID  StudentID
	TermID     TermID
}

func (e *MissingPreferenceError) Error() string {
	return fmt.Sprintf("no fee preference for student %s of guardian %s in term %s",
		e.StudentID, e.GuardianID, e.TermID)
}

func (e *MissingPreferenceError) Unwrap() error { return ErrMissingFeePreference }

type DuplicateInvoiceError struct {
	GuardianID GuardianID
	TermID     TermID
}

func (e *DuplicateInvoiceError) Error() string {
	return fmt.Sprintf("guardian %s already has an invoice for term %s", e.GuardianID, e.TermID)
}

func (e *DuplicateInvoiceError) Unwrap() error { return ErrDuplicateInvoice }

type TermNotActiveError struct {
	TermID       TermID
	ActiveTermID TermID // empty when the school has no active term
	Unknown      bool   // the school has no term with TermID at all
}

func (e *TermNotActiveError) Error() string {
	msg := fmt.Sprintf("term %s is not active", e.TermID)
	if e.Unknown {
		msg = fmt.Sprintf("term %s does not exist", e.TermID)
	}
	if e.ActiveTermID == "" {
		return msg + ": school has no active term"
	}
	return fmt.Sprintf("%s (active term is %s)", msg, e.ActiveTermID)
}

func (e *TermNotActiveError) Unwrap() error { return ErrTermNotActive }

type InvalidEditStateError struct {
	InvoiceID InvoiceID
	Status    InvoiceStatus
}

func (e *InvalidEditStateError) Error() string {
	return fmt.Sprintf("invoice %s is %s; only pending invoices can be edited", e.InvoiceID, e.Status)
}

func (e *InvalidEditStateError) Unwrap() error { return ErrInvalidEditState }

type PaymentExceedsBalanceError struct {
	InvoiceID  InvoiceID
	Amount     decimal.Decimal
	BalanceDue decimal.Decimal
}

func (e *PaymentExceedsBalanceError) Error() string {
	return fmt.Sprintf("payment of %s exceeds balance due %s on invoice %s",
		e.Amount, e.BalanceDue, e.InvoiceID)
}

func (e *PaymentExceedsBalanceError) Unwrap() error { return ErrPaymentExceedsBalance }

type InvalidPaymentDateError struct {
	Date  time.Time
	Today time.Time
}

func (e *InvalidPaymentDateError) Error() string {
	return fmt.Sprintf("payment date %s is after today (%s)",
		e.Date.Format(DateLayout), e.Today.Format(DateLayout))
}

func (e *InvalidPaymentDateError) Unwrap() error { return ErrInvalidPaymentDate }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Error kinds, stable across releases. Used in API responses and bulk results.
const (
	KindValidation            = "validation"
	KindMissingFeeConfig      = "missing_fee_configuration"
	KindMissingFeePreference  = "missing_fee_preference"
	KindDuplicateInvoice      = "duplicate_invoice"
	KindTermNotActive         = "term_not_active"
	KindInvalidEditState      = "invalid_edit_state"
	KindPaymentExceedsBalance = "payment_exceeds_balance"
	KindInvalidPaymentDate    = "invalid_payment_date"
	KindNotFound              = "not_found"
	KindInternal              = "internal"
)

var kinds = []struct {
	sentinel error
	kind     string
}{
	{ErrValidation, KindValidation},
	{ErrMissingFeeConfiguration, KindMissingFeeConfig},
	{ErrMissingFeePreference, KindMissingFeePreference},
	{ErrDuplicateInvoice, KindDuplicateInvoice},
	{ErrTermNotActive, KindTermNotActive},
	{ErrInvalidEditState, KindInvalidEditState},
	{ErrPaymentExceedsBalance, KindPaymentExceedsBalance},
	{ErrInvalidPaymentDate, KindInvalidPaymentDate},
	{ErrNotFound, KindNotFound},
}

// ErrorKind classifies err. Unknown errors are KindInternal.
func ErrorKind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// IsClientError returns true if the error is a business error rather than an
// infrastructure failure.
func IsClientError(err error) bool {
	kind := ErrorKind(err)
	return kind != KindInternal && kind != KindNotFound
}
