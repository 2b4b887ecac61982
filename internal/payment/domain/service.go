package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
)

// RecordPaymentRequest is an admin entry for money received or returned
// outside the gateway. Settlements may omit user_id; it is taken from the invoice.
type RecordPaymentRequest struct {
	UserID    string          `json:"user_id"`
	InvoiceID string          `json:"invoice_id"`
	Type      PaymentType     `json:"type"`
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type InitiateTopupRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Provider string          `json:"provider"`
}

type TopupCheckout struct {
	Payment        *Payment        `json:"payment"`
	Provider       string          `json:"provider"`
	CheckoutKey    string          `json:"checkout_key"`
	GatewayOrderID string          `json:"gateway_order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

type VerifyTopupRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

type ListPaymentRequest struct {
	pagination.Pagination
	UserID string
	Type   string
	Status string
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type Service interface {
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*Payment, error)
	InitiateTopup(ctx context.Context, req InitiateTopupRequest) (*TopupCheckout, error)
	VerifyTopup(ctx context.Context, req VerifyTopupRequest) (*Payment, error)
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidType         = errors.New("invalid_payment_type")
	ErrInvalidMethod       = errors.New("invalid_payment_method")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidStatus       = errors.New("invalid_payment_status")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrForbidden           = errors.New("payment_forbidden")
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrInvoiceMismatch     = errors.New("invoice_user_mismatch")
	ErrAmountMismatch      = errors.New("payment_amount_mismatch")

	ErrProviderNotFound   = errors.New("payment_provider_not_found")
	ErrGatewayUnavailable = errors.New("payment_gateway_unavailable")
	ErrInvalidConfig      = errors.New("invalid_payment_config")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrEventIgnored       = errors.New("event_ignored")
)
