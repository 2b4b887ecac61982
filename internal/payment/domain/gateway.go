package domain

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
}

type GatewayOrder struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Receipt  string
}

// Gateway is a hosted checkout provider.
type Gateway interface {
	Provider() string
	// CheckoutKey is the public key the client-side checkout is opened with.
	CheckoutKey() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
	VerifyCheckout(orderID, paymentID, signature string) error
	VerifyWebhook(payload []byte, headers http.Header) error
	// ParseWebhook returns ErrEventIgnored for event types that do not
	// settle a payment.
	ParseWebhook(payload []byte, headers http.Header) (*GatewayEvent, error)
}
