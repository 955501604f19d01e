/*
store.go - Persistence interfaces for the billing engine

PURPOSE:
  Defines the boundary between engine logic and the relational store.
  The read-only collaborator interfaces (terms, students, preferences,
  catalog) are owned by the surrounding school application; the invoice
  interfaces are owned by this engine.

KEY INTERFACES:
  TermReader, StudentReader, PreferenceReader: consumed collaborators
  CatalogStore:  priced catalog rows (active flag included)
  InvoiceStore:  invoice aggregate persistence
  TxStore:       WithTx for atomic, serialized units of work

TENANCY:
  Every read and write takes the SchoolID explicitly. Nothing is resolved
  from ambient request state.

LOCKING:
  LockInvoice must be the first call on an invoice inside WithTx before any
  mutation. Implementations give the caller exclusive access to that invoice
  until the transaction ends (SELECT ... FOR UPDATE on PostgreSQL, the store
  write lock on SQLite and in memory).

LOOKUPS:
  Get and Find lookups return (nil, nil) when the row does not exist. Callers decide
  whether absence is an error.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - billing/store/memory.go: in-memory for tests

SEE ALSO:
  - generate.go, ledger.go, editor.go: the only writers
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// COLLABORATORS (read-only)
// =============================================================================

type TermReader interface {
	// GetActiveTerm returns the school's active term, or nil if none.
	GetActiveTerm(ctx context.Context, school SchoolID) (*Term, error)
	GetTerm(ctx context.Context, school SchoolID, id TermID) (*Term, error)
}

type StudentReader interface {
	GetActiveStudents(ctx context.Context, school SchoolID, guardian GuardianID) ([]Student, error)

	// ListBillableGuardians returns guardians with at least one active student.
	ListBillableGuardians(ctx context.Context, school SchoolID) ([]GuardianID, error)
}

type PreferenceReader interface {
	GetPreference(ctx context.Context, school SchoolID, guardian GuardianID, student StudentID, term TermID) (*FeePreference, error)
}

// CatalogStore returns catalog rows whether active or not; Catalog filters.
type CatalogStore interface {
	GetTuitionPrice(ctx context.Context, school SchoolID, grade GradeID, year AcademicYearID) (*TuitionPrice, error)
	GetUniversalPrice(ctx context.Context, school SchoolID, feeType FeeType, year AcademicYearID) (*UniversalPrice, error)
	GetTransportPrice(ctx context.Context, school SchoolID, route RouteID) (*TransportPrice, error)
}

// CatalogWriter upserts catalog rows keyed by (school, key, year).
type CatalogWriter interface {
	SaveTuitionPrice(ctx context.Context, p TuitionPrice) error
	SaveUniversalPrice(ctx context.Context, p UniversalPrice) error
	SaveTransportPrice(ctx context.Context, p TransportPrice) error
}

// =============================================================================
// INVOICE AGGREGATE
// =============================================================================

type InvoiceStore interface {
	FindInvoice(ctx context.Context, school SchoolID, guardian GuardianID, term TermID) (*Invoice, error)
	GetInvoice(ctx context.Context, school SchoolID, id InvoiceID) (*Invoice, error)

	// LockInvoice reads the invoice and holds it exclusively for the current transaction.
	LockInvoice(ctx context.Context, school SchoolID, id InvoiceID) (*Invoice, error)

	// ListInvoices returns the school's invoices; an empty term means all terms.
	ListInvoices(ctx context.Context, school SchoolID, term TermID) ([]Invoice, error)

	// NextInvoiceSequence allocates the next per-school invoice sequence number.
	NextInvoiceSequence(ctx context.Context, school SchoolID) (int64, error)

	// CreateInvoice inserts the aggregate. Returns ErrDuplicateInvoice when
	// (school, guardian, term) already exists.
	CreateInvoice(ctx context.Context, inv Invoice, items []LineItem, installments []Installment) error

	// UpdateInvoiceTotals writes TotalAmount, AmountPaid, BalanceDue, Status, UpdatedAt.
	UpdateInvoiceTotals(ctx context.Context, inv Invoice) error

	// DeleteInvoice removes the invoice with its line items, payments and installments.
	DeleteInvoice(ctx context.Context, school SchoolID, id InvoiceID) error

	LineItems(ctx context.Context, invoice InvoiceID) ([]LineItem, error)
	UpdateLineItem(ctx context.Context, item LineItem) error
	Installments(ctx context.Context, invoice InvoiceID) ([]Installment, error)

	Payments(ctx context.Context, invoice InvoiceID) ([]Payment, error)
	GetPayment(ctx context.Context, school SchoolID, id PaymentID) (*Payment, error)
	InsertPayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, id PaymentID) error
}

// Store is everything the engine reads and writes.
type Store interface {
	TermReader
	StudentReader
	PreferenceReader
	CatalogStore
	InvoiceStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// OverdueMarker flips unpaid invoices past their due date to overdue.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
}
