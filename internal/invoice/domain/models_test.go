package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestApplyPaymentKeepsBalanceEqualToTotalMinusPaid(t *testing.T) {
	now := time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC)
	invoice := &Invoice{Status: InvoiceStatusIssued, Total: dec("275.15"), PaidAmount: decimal.Zero, Balance: dec("275.15")}

	require.NoError(t, invoice.ApplyPayment(dec("100"), now))
	assert.Equal(t, InvoiceStatusPartiallyPaid, invoice.Status)
	assert.Equal(t, "175.15", invoice.Balance.StringFixed(2))
	assert.Nil(t, invoice.PaidAt)

	assert.ErrorIs(t, invoice.ApplyPayment(dec("175.16"), now), ErrOverpayment)
	assert.ErrorIs(t, invoice.ApplyPayment(decimal.Zero, now), ErrInvalidAmount)

	require.NoError(t, invoice.ApplyPayment(dec("175.15"), now))
	assert.Equal(t, InvoiceStatusPaid, invoice.Status)
	assert.True(t, invoice.Balance.IsZero())
	assert.True(t, invoice.Total.Sub(invoice.PaidAmount).Equal(invoice.Balance))
	require.NotNil(t, invoice.PaidAt)

	assert.ErrorIs(t, invoice.ApplyPayment(dec("1"), now), ErrInvoiceClosed)
}

func TestTotalsAddsPerLineTax(t *testing.T) {
	subtotal, tax, total := Totals([]LineItem{
		{Amount: dec("64.00"), Tax: dec("3.20")},
		{Amount: dec("64.00"), Tax: dec("3.20")},
		{Amount: dec("135.00"), Tax: dec("5.75")},
	})
	assert.Equal(t, "263.00", subtotal.StringFixed(2))
	assert.Equal(t, "12.15", tax.StringFixed(2))
	assert.Equal(t, "275.15", total.StringFixed(2))
}
