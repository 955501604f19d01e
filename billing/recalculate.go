/*
recalculate.go - Derive an invoice's totals from its line items and payments

PURPOSE:
  TotalAmount, AmountPaid, BalanceDue and Status are stored on the invoice
  for query convenience, but they are a cache. Recalculate rebuilds all four
  from scratch and is called explicitly, in the same transaction, after every
  payment or line item mutation. It is idempotent: running it twice writes
  the same values.

DERIVATION:
  TotalAmount = Σ LineItem.TotalAmount
  AmountPaid  = Σ Payment.Amount
  BalanceDue  = TotalAmount − AmountPaid
  Status      = pending  if AmountPaid ≤ 0
                partial  if 0 < AmountPaid < TotalAmount
                paid     if AmountPaid ≥ TotalAmount

  An invoice already marked overdue stays overdue until it is fully paid.

SEE ALSO:
  - ledger.go: record/delete payment
  - editor.go: line item edits
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DeriveStatus is the pure status rule over paid and total.
func DeriveStatus(paid, total decimal.Decimal) InvoiceStatus {
	switch {
	case !paid.IsPositive():
		return StatusPending
	case paid.LessThan(total):
		return StatusPartial
	default:
		return StatusPaid
	}
}

// nextStatus applies DeriveStatus while keeping an externally applied
// overdue mark on invoices that are still owed money.
func nextStatus(current InvoiceStatus, paid, total decimal.Decimal) InvoiceStatus {
	derived := DeriveStatus(paid, total)
	if current == StatusOverdue && derived != StatusPaid {
		return StatusOverdue
	}
	return derived
}

// Recalculate recomputes and persists inv's derived columns. store must be
// the transactional view in which inv was locked.
func Recalculate(ctx context.Context, store InvoiceStore, inv Invoice, now time.Time) (Invoice, error) {
	items, err := store.LineItems(ctx, inv.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("load line items: %w", err)
	}
	payments, err := store.Payments(ctx, inv.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("load payments: %w", err)
	}

	inv = applyTotals(inv, items, payments)
	inv.UpdatedAt = now
	if err := store.UpdateInvoiceTotals(ctx, inv); err != nil {
		return Invoice{}, fmt.Errorf("update invoice totals: %w", err)
	}
	return inv, nil
}

func applyTotals(inv Invoice, items []LineItem, payments []Payment) Invoice {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalAmount)
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	inv.TotalAmount = total
	inv.AmountPaid = paid
	inv.BalanceDue = total.Sub(paid)
	inv.Status = nextStatus(inv.Status, paid, total)
	return inv
}

// Drifted reports whether the stored columns of before differ from after.
func Drifted(before, after Invoice) bool {
	return !before.TotalAmount.Equal(after.TotalAmount) ||
		!before.AmountPaid.Equal(after.AmountPaid) ||
		!before.BalanceDue.Equal(after.BalanceDue) ||
		before.Status != after.Status
}
