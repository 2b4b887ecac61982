package domain

import (
	"fmt"

	"github.com/smallbiznis/dairyroute/internal/events"
)

// StatusEvents builds the outbox events for a delivery that moved from from
// to its current status.
func StatusEvents(d *SubscriptionDelivery, from Status) []events.Event {
	payload := map[string]any{
		"delivery_id":     d.ID.String(),
		"subscription_id": d.SubscriptionID.String(),
		"user_id":         d.UserID.String(),
		"delivery_date":   d.DeliveryDate.Format("2006-01-02"),
		"from":            string(from),
		"to":              string(d.Status),
	}
	out := []events.Event{{
		OrgID:     d.OrgID,
		Type:      events.EventDeliveryStatusChanged,
		Payload:   payload,
		DedupeKey: fmt.Sprintf("delivery:%s:%s", d.ID, d.Status),
	}}
	if d.Status == StatusDelivered {
		out = append(out, events.Event{
			OrgID: d.OrgID,
			Type:  events.EventDeliveryDelivered,
			Payload: map[string]any{
				"delivery_id":  d.ID.String(),
				"user_id":      d.UserID.String(),
				"payment_mode": string(d.PaymentMode),
				"amount":       d.Amount().StringFixed(2),
			},
			DedupeKey: "delivery.delivered:" + d.ID.String(),
		})
	}
	return out
}
