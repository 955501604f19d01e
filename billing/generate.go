/*
generate.go - Invoice generation for one guardian and term

PURPOSE:
  Materializes the Invoice aggregate: one line item per active student,
  priced from the student's fee preference, totalled, scheduled into
  installments, numbered and persisted in one transaction.

PRECONDITIONS:
  1. The term is the school's active term (TermNotActive otherwise)
  2. No invoice exists yet for (guardian, term) (DuplicateInvoice otherwise;
     also enforced by the store's unique constraint for concurrent requests)
  3. The guardian has at least one active student

ATOMICITY:
  All-or-nothing per guardian. A missing preference or catalog price for
  any student aborts the whole invoice and nothing is written.

SEE ALSO:
  - lineitem.go: per-student pricing
  - schedule.go: installment split
  - bulk.go: fan-out across guardians
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Generator is the invoice generation service.
type Generator struct {
	Store TxStore
	Log   *zap.Logger
	Now   Clock
}

func NewGenerator(store TxStore, log *zap.Logger) *Generator {
	return &Generator{Store: store, Log: log, Now: time.Now}
}

// GenerateInvoiceForGuardian creates and persists the guardian's invoice for term.
func (g *Generator) GenerateInvoiceForGuardian(ctx context.Context, school SchoolID, guardian GuardianID, term TermID, actor string, plan PaymentPlan) (*Invoice, error) {
	plan, err := ParsePaymentPlan(string(plan))
	if err != nil {
		return nil, err
	}
	if guardian == "" {
		return nil, &ValidationError{Field: "guardian_id", Message: "is required"}
	}

	var created Invoice
	err = g.Store.WithTx(ctx, func(tx Store) error {
		inv, err := g.generate(ctx, tx, school, guardian, term, actor, plan)
		if err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		g.Log.Warn("invoice generation failed",
			zap.String("school_id", string(school)),
			zap.String("guardian_id", string(guardian)),
			zap.String("term_id", string(term)),
			zap.String("kind", ErrorKind(err)),
			zap.Error(err))
		return nil, err
	}

	g.Log.Info("invoice generated",
		zap.String("school_id", string(school)),
		zap.String("guardian_id", string(guardian)),
		zap.String("invoice_id", string(created.ID)),
		zap.String("invoice_number", created.InvoiceNumber),
		zap.String("total", created.TotalAmount.String()),
		zap.String("plan", string(plan)))
	return &created, nil
}

func (g *Generator) generate(ctx context.Context, tx Store, school SchoolID, guardian GuardianID, termID TermID, actor string, plan PaymentPlan) (Invoice, error) {
	term, err := requireActiveTerm(ctx, tx, school, termID)
	if err != nil {
		return Invoice{}, err
	}

	existing, err := tx.FindInvoice(ctx, school, guardian, termID)
	if err != nil {
		return Invoice{}, fmt.Errorf("check existing invoice: %w", err)
	}
	if existing != nil {
		return Invoice{}, &DuplicateInvoiceError{GuardianID: guardian, TermID: termID}
	}

	students, err := tx.GetActiveStudents(ctx, school, guardian)
	if err != nil {
		return Invoice{}, fmt.Errorf("load students: %w", err)
	}
	if len(students) == 0 {
		return Invoice{}, &ValidationError{Field: "guardian_id",
			Message: fmt.Sprintf("guardian %s has no active students", guardian)}
	}

	builder := NewLineItemBuilder(NewCatalog(tx))
	items := make([]LineItem, 0, len(students))
	for _, student := range students {
		pref, err := tx.GetPreference(ctx, school, guardian, student.ID, termID)
		if err != nil {
			return Invoice{}, fmt.Errorf("load preference for student %s: %w", student.ID, err)
		}
		if pref == nil {
			return Invoice{}, &MissingPreferenceError{GuardianID: guardian, StudentID: student.ID, TermID: termID}
		}
		item, err := builder.Build(ctx, school, student, *pref, term.AcademicYearID)
		if err != nil {
			return Invoice{}, err
		}
		items = append(items, item)
	}

	seq, err := tx.NextInvoiceSequence(ctx, school)
	if err != nil {
		return Invoice{}, fmt.Errorf("allocate invoice number: %w", err)
	}

	now := g.Now()
	inv := Invoice{
		ID:            InvoiceID(uuid.NewString()),
		SchoolID:      school,
		GuardianID:    guardian,
		TermID:        termID,
		InvoiceNumber: FormatInvoiceNumber(term.StartDate.Year(), seq),
		Status:        StatusPending,
		PaymentPlan:   plan,
		DueDate:       DateOf(term.EndDate),
		GeneratedBy:   actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i := range items {
		items[i].InvoiceID = inv.ID
	}
	inv = applyTotals(inv, items, nil)

	installments := Schedule(inv.TotalAmount, plan, term.StartDate, term.EndDate)
	for i := range installments {
		installments[i].InvoiceID = inv.ID
	}

	if err := tx.CreateInvoice(ctx, inv, items, installments); err != nil {
		if errors.Is(err, ErrDuplicateInvoice) {
			return Invoice{}, &DuplicateInvoiceError{GuardianID: guardian, TermID: termID}
		}
		return Invoice{}, fmt.Errorf("persist invoice: %w", err)
	}
	return inv, nil
}

// FormatInvoiceNumber renders the human-readable per-school invoice number.
func FormatInvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%05d", year, seq)
}

// requireActiveTerm returns termID's term when it is the school's active term.
func requireActiveTerm(ctx context.Context, terms TermReader, school SchoolID, termID TermID) (*Term, error) {
	active, err := terms.GetActiveTerm(ctx, school)
	if err != nil {
		return nil, fmt.Errorf("load active term: %w", err)
	}
	if active != nil && active.ID == termID {
		return active, nil
	}

	notActive := &TermNotActiveError{TermID: termID}
	if active != nil {
		notActive.ActiveTermID = active.ID
	}
	requested, err := terms.GetTerm(ctx, school, termID)
	if err != nil {
		return nil, fmt.Errorf("load term %s: %w", termID, err)
	}
	notActive.Unknown = requested == nil
	return nil, notActive
}
