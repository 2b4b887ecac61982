package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/config"
	paymentdomain "github.com/smallbiznis/dairyroute/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	got  map[string]interface{}
	resp map[string]interface{}
	err  error
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.got = data
	return f.resp, f.err
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

var testConfig = config.RazorpayConfig{
	KeyID:         "rzp_test_key",
	KeySecret:     "key_secret",
	WebhookSecret: "whsec",
}

func TestCreateOrderSendsPaise(t *testing.T) {
	orders := &fakeOrders{resp: map[string]interface{}{"id": "order_9A33XWu170gUtm", "amount": float64(49950)}}
	adapter := newAdapter(testConfig, orders)

	order, err := adapter.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{
		Amount:  decimal.RequireFromString("499.50"),
		Receipt: "1700000000000",
		Notes:   map[string]string{"user_id": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_9A33XWu170gUtm", order.ID)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, int64(49950), orders.got["amount"])
	assert.Equal(t, "INR", orders.got["currency"])
	assert.Equal(t, "1700000000000", orders.got["receipt"])

	orders.resp = map[string]interface{}{}
	_, err = adapter.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	orders.err = errors.New("bad gateway")
	_, err = adapter.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)

	_, err = adapter.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{Amount: decimal.Zero})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
}

func TestVerifyCheckoutSignature(t *testing.T) {
	adapter := newAdapter(testConfig, &fakeOrders{})
	signature := sign("key_secret", "order_1|pay_1")

	assert.NoError(t, adapter.VerifyCheckout("order_1", "pay_1", signature))
	assert.ErrorIs(t, adapter.VerifyCheckout("order_1", "pay_2", signature), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, adapter.VerifyCheckout("order_1", "pay_1", sign("other", "order_1|pay_1")), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, adapter.VerifyCheckout("", "pay_1", signature), paymentdomain.ErrInvalidSignature)
}

func TestWebhookVerifyAndParse(t *testing.T) {
	adapter := newAdapter(testConfig, &fakeOrders{})
	payload := []byte(`{"event":"payment.captured","created_at":1704096000,"payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":25000,"currency":"inr","status":"captured"}}}}`)

	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", sign("whsec", string(payload)))
	headers.Set("X-Razorpay-Event-Id", "evt_1")
	require.NoError(t, adapter.VerifyWebhook(payload, headers))

	event, err := adapter.ParseWebhook(payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ProviderEventID)
	assert.Equal(t, paymentdomain.EventTypePaymentCaptured, event.Type)
	assert.Equal(t, "order_1", event.GatewayOrderID)
	assert.Equal(t, "pay_1", event.GatewayPaymentID)
	assert.Equal(t, "250.00", event.Amount.StringFixed(2))
	assert.Equal(t, "INR", event.Currency)

	headers.Set("X-Razorpay-Signature", sign("wrong", string(payload)))
	assert.ErrorIs(t, adapter.VerifyWebhook(payload, headers), paymentdomain.ErrInvalidSignature)

	_, err = adapter.ParseWebhook([]byte(`{"event":"order.paid"}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)

	_, err = adapter.ParseWebhook([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2"}}}}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func TestNewRequiresKeys(t *testing.T) {
	_, err := New(config.RazorpayConfig{KeyID: "rzp_test_key"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
