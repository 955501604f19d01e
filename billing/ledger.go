/*
ledger.go - Payment recording and removal

PURPOSE:
  Records the fact of a payment against an invoice and keeps the invoice's
  paid/balance/status equal to what its payments say. How the money was
  captured (gateway, till, bank) is not this package's concern.

RULES:
  1. 0 < amount ≤ balance_due, otherwise PaymentExceedsBalance (or a
     ValidationError for non-positive amounts)
  2. payment_date ≤ today, otherwise InvalidPaymentDate
  3. Payments are created or deleted, never edited
  4. After every create/delete, Recalculate runs in the same transaction and
     sums the remaining payments from scratch (no incremental arithmetic)

CONCURRENCY:
  Each operation locks the invoice first, so two postings against the same
  invoice cannot both read a stale balance.

SCHEDULE:
  Installments are advisory. The ledger enforces only the total balance.

SEE ALSO:
  - recalculate.go: derivation rules
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentInput is a validated request to record a payment.
type PaymentInput struct {
	Amount     decimal.Decimal
	Date       time.Time
	Method     PaymentMethod
	Reference  string
	RecordedBy string
}

type PaymentLedger struct {
	Store TxStore
	Log   *zap.Logger
	Now   Clock
}

func NewPaymentLedger(store TxStore, log *zap.Logger) *PaymentLedger {
	return &PaymentLedger{Store: store, Log: log, Now: time.Now}
}

// RecordPayment stores a payment and returns it with the recalculated invoice.
func (l *PaymentLedger) RecordPayment(ctx context.Context, school SchoolID, invoiceID InvoiceID, in PaymentInput) (*Payment, *Invoice, error) {
	if _, err := ParsePaymentMethod(string(in.Method)); err != nil {
		return nil, nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	now := l.Now()
	today := DateOf(now)
	if DateOf(in.Date).After(today) {
		return nil, nil, &InvalidPaymentDateError{Date: DateOf(in.Date), Today: today}
	}

	var (
		payment Payment
		updated Invoice
	)
	err := l.Store.WithTx(ctx, func(tx Store) error {
		inv, err := lockInvoice(ctx, tx, school, invoiceID)
		if err != nil {
			return err
		}
		if in.Amount.GreaterThan(inv.BalanceDue) {
			return &PaymentExceedsBalanceError{InvoiceID: inv.ID, Amount: in.Amount, BalanceDue: inv.BalanceDue}
		}

		payment = Payment{
			ID:          PaymentID(uuid.NewString()),
			InvoiceID:   inv.ID,
			Amount:      in.Amount,
			PaymentDate: DateOf(in.Date),
			Method:      in.Method,
			Reference:   in.Reference,
			RecordedBy:  in.RecordedBy,
			CreatedAt:   now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		updated, err = Recalculate(ctx, tx, *inv, now)
		return err
	})
	if err != nil {
		l.Log.Warn("payment rejected",
			zap.String("school_id", string(school)),
			zap.String("invoice_id", string(invoiceID)),
			zap.String("amount", in.Amount.String()),
			zap.String("kind", ErrorKind(err)),
			zap.Error(err))
		return nil, nil, err
	}

	l.Log.Info("payment recorded",
		zap.String("school_id", string(school)),
		zap.String("invoice_id", string(invoiceID)),
		zap.String("payment_id", string(payment.ID)),
		zap.String("amount", payment.Amount.String()),
		zap.String("method", string(payment.Method)),
		zap.String("balance_due", updated.BalanceDue.String()),
		zap.String("status", string(updated.Status)))
	return &payment, &updated, nil
}

// DeletePayment removes a payment and returns the recalculated invoice.
func (l *PaymentLedger) DeletePayment(ctx context.Context, school SchoolID, paymentID PaymentID) (*Invoice, error) {
	var updated Invoice
	err := l.Store.WithTx(ctx, func(tx Store) error {
		payment, err := tx.GetPayment(ctx, school, paymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if payment == nil {
			return &NotFoundError{Resource: "payment", ID: string(paymentID)}
		}
		inv, err := lockInvoice(ctx, tx, school, payment.InvoiceID)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, paymentID); err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
		updated, err = Recalculate(ctx, tx, *inv, l.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	l.Log.Info("payment deleted",
		zap.String("school_id", string(school)),
		zap.String("invoice_id", string(updated.ID)),
		zap.String("payment_id", string(paymentID)),
		zap.String("balance_due", updated.BalanceDue.String()),
		zap.String("status", string(updated.Status)))
	return &updated, nil
}

// Recalculate rebuilds an invoice's stored totals on demand. Drift between
// the stored and derived values is logged.
func (l *PaymentLedger) Recalculate(ctx context.Context, school SchoolID, invoiceID InvoiceID) (*Invoice, error) {
	var updated Invoice
	err := l.Store.WithTx(ctx, func(tx Store) error {
		inv, err := lockInvoice(ctx, tx, school, invoiceID)
		if err != nil {
			return err
		}
		updated, err = Recalculate(ctx, tx, *inv, l.Now())
		if err == nil && Drifted(*inv, updated) {
			l.Log.Warn("invoice totals drifted",
				zap.String("invoice_id", string(inv.ID)),
				zap.String("stored_paid", inv.AmountPaid.String()),
				zap.String("derived_paid", updated.AmountPaid.String()),
				zap.String("stored_total", inv.TotalAmount.String()),
				zap.String("derived_total", updated.TotalAmount.String()))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteInvoice is the administrative removal of an invoice with its line
// items, payments and installments.
func (l *PaymentLedger) DeleteInvoice(ctx context.Context, school SchoolID, invoiceID InvoiceID) error {
	err := l.Store.WithTx(ctx, func(tx Store) error {
		if _, err := lockInvoice(ctx, tx, school, invoiceID); err != nil {
			return err
		}
		return tx.DeleteInvoice(ctx, school, invoiceID)
	})
	if err != nil {
		return err
	}
	l.Log.Info("invoice deleted",
		zap.String("school_id", string(school)),
		zap.String("invoice_id", string(invoiceID)))
	return nil
}

func lockInvoice(ctx context.Context, tx Store, school SchoolID, id InvoiceID) (*Invoice, error) {
	inv, err := tx.LockInvoice(ctx, school, id)
	if err != nil {
		return nil, fmt.Errorf("lock invoice: %w", err)
	}
	if inv == nil {
		return nil, &NotFoundError{Resource: "invoice", ID: string(id)}
	}
	return inv, nil
}
