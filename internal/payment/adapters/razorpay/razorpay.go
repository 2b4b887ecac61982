package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	razorpaysdk "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/config"
	paymentdomain "github.com/smallbiznis/dairyroute/internal/payment/domain"
)

const Provider = "razorpay"

var paisePerRupee = decimal.NewFromInt(100)

// orderCreator is the slice of the SDK client the adapter calls.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Adapter struct {
	keyID         string
	keySecret     string
	webhookSecret string
	currency      string
	orders        orderCreator
}

func New(cfg config.RazorpayConfig) (*Adapter, error) {
	if !cfg.Enabled() {
		return nil, paymentdomain.ErrInvalidConfig
	}
	client := razorpaysdk.NewClient(cfg.KeyID, cfg.KeySecret)
	return newAdapter(cfg, client.Order), nil
}

func newAdapter(cfg config.RazorpayConfig, orders orderCreator) *Adapter {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "INR"
	}
	return &Adapter{
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		orders:        orders,
	}
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) CheckoutKey() string { return a.keyID }

func (a *Adapter) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (*paymentdomain.GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = a.currency
	}

	notes := map[string]interface{}{}
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   toPaise(req.Amount),
		"currency": currency,
		"receipt":  req.Receipt,
		"notes":    notes,
	}

	resp, err := a.orders.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}
	id, _ := resp["id"].(string)
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("razorpay create order: %w", paymentdomain.ErrInvalidPayload)
	}

	return &paymentdomain.GatewayOrder{
		ID:       id,
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  req.Receipt,
	}, nil
}

// VerifyCheckout checks the signature returned to the client by checkout:
// HMAC-SHA256 of "order_id|payment_id" keyed with the API secret.
func (a *Adapter) VerifyCheckout(orderID, paymentID, signature string) error {
	orderID, paymentID = strings.TrimSpace(orderID), strings.TrimSpace(paymentID)
	if orderID == "" || paymentID == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if !validSignature(a.keySecret, []byte(orderID+"|"+paymentID), signature) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) VerifyWebhook(payload []byte, headers http.Header) error {
	if strings.TrimSpace(a.webhookSecret) == "" {
		return paymentdomain.ErrInvalidConfig
	}
	if !validSignature(a.webhookSecret, payload, headers.Get("X-Razorpay-Signature")) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) ParseWebhook(payload []byte, headers http.Header) (*paymentdomain.GatewayEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var eventType string
	switch strings.TrimSpace(event.Event) {
	case "payment.captured":
		eventType = paymentdomain.EventTypePaymentCaptured
	case "payment.failed":
		eventType = paymentdomain.EventTypePaymentFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	entity := event.Payload.Payment.Entity
	if strings.TrimSpace(entity.ID) == "" || strings.TrimSpace(entity.OrderID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	eventID := strings.TrimSpace(headers.Get("X-Razorpay-Event-Id"))
	if eventID == "" {
		eventID = event.Event + ":" + entity.ID
	}

	occurredAt := time.Unix(event.CreatedAt, 0).UTC()
	if event.CreatedAt == 0 {
		occurredAt = time.Unix(entity.CreatedAt, 0).UTC()
	}

	return &paymentdomain.GatewayEvent{
		Provider:         Provider,
		ProviderEventID:  eventID,
		Type:             eventType,
		GatewayOrderID:   entity.OrderID,
		GatewayPaymentID: entity.ID,
		Amount:           fromPaise(entity.Amount),
		Currency:         strings.ToUpper(strings.TrimSpace(entity.Currency)),
		FailureReason:    strings.TrimSpace(entity.ErrorDescription),
		OccurredAt:       occurredAt,
	}, nil
}

type webhookEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
}

func validSignature(secret string, message []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func toPaise(amount decimal.Decimal) int64 {
	return amount.Mul(paisePerRupee).Round(0).IntPart()
}

func fromPaise(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(paisePerRupee).Round(2)
}
