package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
	"gorm.io/gorm"
)

type GenerateInvoiceRequest struct {
	UserID      string `json:"user_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type GenerateSummary struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Users       int       `json:"users"`
	Issued      int       `json:"issued"`
	Existing    int       `json:"existing"`
	Failed      int       `json:"failed"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	UserID string
	Status string
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	Generate(ctx context.Context, req GenerateInvoiceRequest) (*Invoice, error)
	// GenerateForPeriod invoices every billable user over [start, end].
	GenerateForPeriod(ctx context.Context, start, end time.Time) (GenerateSummary, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	Get(ctx context.Context, id string) (*Invoice, error)
	RenderPDF(ctx context.Context, id string) (*Invoice, []byte, error)
	Void(ctx context.Context, id string) (*Invoice, error)
	// ApplyPaymentTx settles part or all of an invoice on the caller's
	// transaction.
	ApplyPaymentTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, amount decimal.Decimal) (*Invoice, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrForbidden           = errors.New("invoice_forbidden")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrNothingToInvoice    = errors.New("nothing_to_invoice")
	ErrPeriodOverlap       = errors.New("invoice_period_overlap")
	ErrInvoiceClosed       = errors.New("invoice_closed")
	ErrOverpayment         = errors.New("payment_exceeds_balance")
	ErrInvoiceNotVoidable  = errors.New("invoice_not_voidable")
	ErrRendererUnavailable = errors.New("renderer_not_configured")
)
