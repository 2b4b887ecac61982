package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/dairyroute/internal/events"
	"go.uber.org/zap"
)

// Consumer turns outbox events into customer notifications. A failed push is
// logged and dropped; notifications are not worth redelivering the event for.
type Consumer struct {
	notifier Notifier
	log      *zap.Logger
}

func NewConsumer(notifier Notifier, log *zap.Logger) *Consumer {
	return &Consumer{notifier: notifier, log: log.Named("notification.consumer")}
}

func (c *Consumer) Register(d *events.Dispatcher) {
	d.Register(events.EventDeliveryStatusChanged, c.Handle)
	d.Register(events.EventOrderStatusChanged, c.Handle)
	d.Register(events.EventInvoiceIssued, c.Handle)
	d.Register(events.EventPaymentCompleted, c.Handle)
}

func (c *Consumer) Handle(ctx context.Context, event events.DomainEvent) error {
	n, ok := Build(event)
	if !ok {
		return nil
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.log.Warn("notification dropped",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
	return nil
}

var deliveryStatusText = map[string]string{
	"picked_up":  "has been picked up",
	"in_transit": "is on the way",
	"delivered":  "was delivered",
	"failed":     "could not be delivered",
	"cancelled":  "was cancelled",
}

// Build maps an event to a notification. Events with nothing to tell the
// customer return false.
func Build(event events.DomainEvent) (Notification, bool) {
	n := Notification{
		OrgID:  event.OrgID.String(),
		UserID: event.String("user_id"),
		Data:   map[string]any{},
	}
	if n.UserID == "" {
		return Notification{}, false
	}
	for key, value := range event.Payload {
		if s, ok := value.(string); ok && key != "user_id" {
			n.Data[key] = s
		}
	}

	switch event.EventType {
	case events.EventDeliveryStatusChanged:
		text, ok := deliveryStatusText[event.String("to")]
		if !ok {
			return Notification{}, false
		}
		n.Kind = KindDelivery
		n.Title = "Delivery update"
		n.Body = fmt.Sprintf("Your delivery for %s %s.", event.String("delivery_date"), text)
	case events.EventOrderStatusChanged:
		to := event.String("to")
		if to == "" || to == "pending" {
			return Notification{}, false
		}
		n.Kind = KindOrder
		n.Title = "Order update"
		n.Body = "Your order is " + strings.ReplaceAll(to, "_", " ") + "."
	case events.EventInvoiceIssued:
		n.Kind = KindInvoice
		n.Title = "New invoice " + event.String("invoice_number")
		n.Body = fmt.Sprintf("Your bill for %s to %s is Rs. %s.",
			event.String("period_start"), event.String("period_end"), event.String("total"))
	case events.EventPaymentCompleted:
		n.Kind = KindPayment
		n.Title = "Payment received"
		n.Body = "We received Rs. " + event.String("amount") + "."
		if event.String("type") == "refund" {
			n.Title = "Refund issued"
			n.Body = "Rs. " + event.String("amount") + " has been refunded."
		}
	default:
		return Notification{}, false
	}
	return n, true
}
