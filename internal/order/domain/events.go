package domain

import (
	"fmt"

	"github.com/smallbiznis/dairyroute/internal/events"
)

// StatusEvents builds the outbox events for an order that moved from from to
// its current status.
func StatusEvents(o *Order, from OrderStatus) []events.Event {
	out := []events.Event{{
		OrgID: o.OrgID,
		Type:  events.EventOrderStatusChanged,
		Payload: map[string]any{
			"order_id": o.ID.String(),
			"user_id":  o.UserID.String(),
			"from":     string(from),
			"to":       string(o.Status),
		},
		DedupeKey: fmt.Sprintf("order:%s:%s", o.ID, o.Status),
	}}
	if o.Status == OrderStatusDelivered {
		out = append(out, events.Event{
			OrgID: o.OrgID,
			Type:  events.EventOrderDelivered,
			Payload: map[string]any{
				"order_id":     o.ID.String(),
				"user_id":      o.UserID.String(),
				"payment_mode": string(o.PaymentMode),
				"amount":       o.Total.StringFixed(2),
			},
			DedupeKey: "order.delivered:" + o.ID.String(),
		})
	}
	return out
}
