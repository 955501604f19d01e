package billing_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/fee-engine/billing"
)

func TestDeriveStatus(t *testing.T) {
	total := billing.NewMoney(10500)

	tests := []struct {
		paid int64
		want billing.InvoiceStatus
	}{
		{-100, billing.StatusPending},
		{0, billing.StatusPending},
		{1, billing.StatusPartial},
		{10499, billing.StatusPartial},
		{10500, billing.StatusPaid},
		{11000, billing.StatusPaid},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, billing.DeriveStatus(billing.NewMoney(tt.paid), total), "paid=%d", tt.paid)
	}
}

func TestDeriveStatus_ZeroTotal(t *testing.T) {
	// Nothing paid on a zero invoice is still pending.
	assert.Equal(t, billing.StatusPending, billing.DeriveStatus(billing.NewMoney(0), billing.NewMoney(0)))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&billing.ValidationError{Field: "amount", Message: "bad"}, billing.KindValidation},
		{&billing.MissingFeeConfigError{Component: billing.ComponentTuition, Key: "g"}, billing.KindMissingFeeConfig},
		{&billing.DuplicateInvoiceError{}, billing.KindDuplicateInvoice},
		{&billing.TermNotActiveError{}, billing.KindTermNotActive},
		{&billing.InvalidEditStateError{}, billing.KindInvalidEditState},
		{&billing.PaymentExceedsBalanceError{}, billing.KindPaymentExceedsBalance},
		{&billing.InvalidPaymentDateError{}, billing.KindInvalidPaymentDate},
		{fmt.Errorf("wrapped: %w", &billing.NotFoundError{Resource: "invoice", ID: "x"}), billing.KindNotFound},
		{errors.New("disk on fire"), billing.KindInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, billing.ErrorKind(tt.err), "%v", tt.err)
	}

	assert.True(t, billing.IsClientError(&billing.DuplicateInvoiceError{}))
	assert.False(t, billing.IsClientError(errors.New("db down")))
}

func TestMissingFeeConfigError_NamesKeyAndYear(t *testing.T) {
	err := &billing.MissingFeeConfigError{
		Component: billing.ComponentTuition, Key: "grade-7", YearID: "2025", StudentID: "s-1",
	}
	assert.Contains(t, err.Error(), "grade-7")
	assert.Contains(t, err.Error(), "2025")
	assert.Contains(t, err.Error(), "s-1")
}
