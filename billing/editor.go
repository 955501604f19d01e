package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LineItemEdit replaces one line item's whole breakdown.
type LineItemEdit struct {
	LineItemID LineItemID
	Breakdown  Breakdown
}

// LineItemEditor corrects the breakdown of pending invoices. Once money has
// moved (partial, paid) or the invoice is overdue, totals are frozen.
type LineItemEditor struct {
	Store TxStore
	Log   *zap.Logger
	Now   Clock
}

func NewLineItemEditor(store TxStore, log *zap.Logger) *LineItemEditor {
	return &LineItemEditor{Store: store, Log: log, Now: time.Now}
}

// UpdateBreakdown applies edits and returns the recalculated invoice.
func (e *LineItemEditor) UpdateBreakdown(ctx context.Context, school SchoolID, invoiceID InvoiceID, edits []LineItemEdit) (*Invoice, error) {
	if err := validateEdits(edits); err != nil {
		return nil, err
	}

	var before, updated Invoice
	err := e.Store.WithTx(ctx, func(tx Store) error {
		inv, err := lockInvoice(ctx, tx, school, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusPending {
			return &InvalidEditStateError{InvoiceID: inv.ID, Status: inv.Status}
		}
		before = *inv

		items, err := tx.LineItems(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("load line items: %w", err)
		}
		byID := make(map[LineItemID]LineItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}

		for _, edit := range edits {
			item, ok := byID[edit.LineItemID]
			if !ok {
				return &NotFoundError{Resource: "line item", ID: string(edit.LineItemID)}
			}
			item.Breakdown = edit.Breakdown
			item.TotalAmount = edit.Breakdown.Total()
			if err := tx.UpdateLineItem(ctx, item); err != nil {
				return fmt.Errorf("update line item %s: %w", item.ID, err)
			}
		}

		updated, err = Recalculate(ctx, tx, *inv, e.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("invoice line items edited",
		zap.String("school_id", string(school)),
		zap.String("invoice_id", string(invoiceID)),
		zap.Int("items", len(edits)),
		zap.String("old_total", before.TotalAmount.String()),
		zap.String("new_total", updated.TotalAmount.String()))
	return &updated, nil
}

func validateEdits(edits []LineItemEdit) error {
	if len(edits) == 0 {
		return &ValidationError{Field: "items", Message: "at least one line item edit is required"}
	}
	seen := make(map[LineItemID]bool, len(edits))
	for _, edit := range edits {
		if edit.LineItemID == "" {
			return &ValidationError{Field: "line_item_id", Message: "is required"}
		}
		if seen[edit.LineItemID] {
			return &ValidationError{Field: "line_item_id", Message: fmt.Sprintf("line item %s edited twice", edit.LineItemID)}
		}
		seen[edit.LineItemID] = true

		for component, amount := range edit.Breakdown {
			if _, err := ParseComponent(string(component)); err != nil {
				return err
			}
			if amount.LessThan(decimal.Zero) {
				return &ValidationError{Field: "breakdown",
					Message: fmt.Sprintf("%s amount %s on line item %s must not be negative", component, amount, edit.LineItemID)}
			}
		}
	}
	return nil
}
