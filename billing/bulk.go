package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// BulkResult tallies a bulk generation run.
type BulkResult struct {
	SuccessCount int
	FailedCount  int
	SkippedCount int
	Errors       []GuardianError
	Invoices     []InvoiceID
}

// GuardianError records why one guardian's invoice was not generated.
type GuardianError struct {
	GuardianID GuardianID
	Kind       string
	Message    string
}

// BulkGenerator runs the Generator over many guardians. Guardians are
// processed one at a time, each in its own transaction, so a failure never
// rolls back another guardian's invoice.
type BulkGenerator struct {
	Generator *Generator
	Log       *zap.Logger
}

func NewBulkGenerator(gen *Generator, log *zap.Logger) *BulkGenerator {
	return &BulkGenerator{Generator: gen, Log: log}
}

// GenerateForGuardians generates invoices for guardians in term. An empty
// guardian list means every guardian of the school with an active student.
//
// Per-guardian errors are collected, never returned. The returned error is
// non-nil only when the run cannot start (bad plan, term not active, guardian
// list unavailable) or ctx is done; the result then holds whatever was
// processed before.
func (b *BulkGenerator) GenerateForGuardians(ctx context.Context, school SchoolID, guardians []GuardianID, term TermID, actor string, plan PaymentPlan) (BulkResult, error) {
	var result BulkResult

	plan, err := ParsePaymentPlan(string(plan))
	if err != nil {
		return result, err
	}

	// A non-active term would fail every guardian identically; reject the run.
	if _, err := requireActiveTerm(ctx, b.Generator.Store, school, term); err != nil {
		return result, err
	}

	if len(guardians) == 0 {
		guardians, err = b.Generator.Store.ListBillableGuardians(ctx, school)
		if err != nil {
			return result, fmt.Errorf("list guardians: %w", err)
		}
	}
	guardians = lo.Uniq(guardians)

	for _, guardian := range guardians {
		if err := ctx.Err(); err != nil {
			b.logSummary(school, term, result)
			return result, err
		}

		existing, err := b.Generator.Store.FindInvoice(ctx, school, guardian, term)
		if err != nil {
			result.fail(guardian, fmt.Errorf("check existing invoice: %w", err))
			continue
		}
		if existing != nil {
			result.SkippedCount++
			continue
		}

		inv, err := b.Generator.GenerateInvoiceForGuardian(ctx, school, guardian, term, actor, plan)
		switch {
		case err == nil:
			result.SuccessCount++
			result.Invoices = append(result.Invoices, inv.ID)
		case errors.Is(err, ErrDuplicateInvoice):
			// Another request created it between the check and the insert.
			result.SkippedCount++
		default:
			result.fail(guardian, err)
		}
	}

	b.logSummary(school, term, result)
	return result, nil
}

func (r *BulkResult) fail(guardian GuardianID, err error) {
	r.FailedCount++
	r.Errors = append(r.Errors, GuardianError{
		GuardianID: guardian,
		Kind:       ErrorKind(err),
		Message:    err.Error(),
	})
}

func (b *BulkGenerator) logSummary(school SchoolID, term TermID, result BulkResult) {
	b.Log.Info("bulk invoice generation finished",
		zap.String("school_id", string(school)),
		zap.String("term_id", string(term)),
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("skipped", result.SkippedCount))
}
