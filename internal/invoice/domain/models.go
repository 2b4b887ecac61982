// Package domain contains the postpaid invoice model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusIssued        InvoiceStatus = "issued"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

var StatusMachine = lifecycle.New("invoice", map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusIssued:        {InvoiceStatusPartiallyPaid, InvoiceStatusPaid, InvoiceStatusVoid},
	InvoiceStatusPartiallyPaid: {InvoiceStatusPaid},
})

type LineSource string

const (
	LineSourceDelivery LineSource = "delivery"
	LineSourceOrder    LineSource = "order"
)

// LineItem is one billed delivery or order, frozen at generation time.
type LineItem struct {
	SourceType  LineSource      `json:"source_type"`
	SourceID    string          `json:"source_id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	Tax         decimal.Decimal `json:"tax"`
}

type Invoice struct {
	ID            snowflake.ID                  `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID                  `gorm:"not null;uniqueIndex:ux_invoices_org_sequence,priority:1;uniqueIndex:ux_invoices_period,priority:1" json:"organization_id"`
	UserID        snowflake.ID                  `gorm:"not null;index;uniqueIndex:ux_invoices_period,priority:2" json:"user_id"`
	Sequence      int64                         `gorm:"not null;uniqueIndex:ux_invoices_org_sequence,priority:2" json:"-"`
	InvoiceNumber string                        `gorm:"type:text;not null" json:"invoice_number"`
	PeriodStart   time.Time                     `gorm:"type:date;not null;uniqueIndex:ux_invoices_period,priority:3" json:"period_start"`
	PeriodEnd     time.Time                     `gorm:"type:date;not null;uniqueIndex:ux_invoices_period,priority:4" json:"period_end"`
	Status        InvoiceStatus                 `gorm:"type:text;not null;index" json:"status"`
	LineItems     datatypes.JSONSlice[LineItem] `gorm:"type:jsonb;not null" json:"line_items"`
	Subtotal      decimal.Decimal               `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	Tax           decimal.Decimal               `gorm:"type:decimal(10,2);not null" json:"tax"`
	Total         decimal.Decimal               `gorm:"type:decimal(10,2);not null" json:"total"`
	PaidAmount    decimal.Decimal               `gorm:"type:decimal(10,2);not null" json:"paid_amount"`
	Balance       decimal.Decimal               `gorm:"type:decimal(10,2);not null" json:"balance"`
	IssuedAt      time.Time                     `gorm:"not null" json:"issued_at"`
	DueAt         time.Time                     `gorm:"not null" json:"due_at"`
	PaidAt        *time.Time                    `json:"paid_at,omitempty"`
	VoidedAt      *time.Time                    `json:"voided_at,omitempty"`
	CreatedAt     time.Time                     `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                     `gorm:"not null" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// Totals sums line items. Tax is accumulated per line so a delivery line is
// taxed on its own amount and an order line carries the tax already charged
// on the order.
func Totals(lines []LineItem) (subtotal, tax, total decimal.Decimal) {
	subtotal, tax = decimal.Zero, decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Amount)
		tax = tax.Add(line.Tax)
	}
	subtotal, tax = subtotal.Round(2), tax.Round(2)
	return subtotal, tax, subtotal.Add(tax)
}

// ApplyPayment records amount against the invoice and keeps
// balance = total - paid_amount.
func (i *Invoice) ApplyPayment(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if i.Status != InvoiceStatusIssued && i.Status != InvoiceStatusPartiallyPaid {
		return ErrInvoiceClosed
	}
	if amount.GreaterThan(i.Balance) {
		return ErrOverpayment
	}

	i.PaidAmount = i.PaidAmount.Add(amount).Round(2)
	i.Balance = i.Total.Sub(i.PaidAmount)
	target := InvoiceStatusPartiallyPaid
	if i.Balance.IsZero() {
		target = InvoiceStatusPaid
		i.PaidAt = &now
	}
	if target != i.Status {
		if err := StatusMachine.Transition(i.Status, target); err != nil {
			return err
		}
		i.Status = target
	}
	i.UpdatedAt = now
	return nil
}
