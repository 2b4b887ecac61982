package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StatusMachine forbids skipping straight from scheduled to delivered.
var StatusMachine = lifecycle.New("subscription_delivery", map[Status][]Status{
	StatusScheduled: {StatusPickedUp, StatusFailed, StatusCancelled},
	StatusPickedUp:  {StatusInTransit, StatusFailed},
	StatusInTransit: {StatusDelivered, StatusFailed},
})

type SubscriptionDelivery struct {
	ID             snowflake.ID                   `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID                   `gorm:"not null;index:ix_deliveries_org_date,priority:1" json:"organization_id"`
	SubscriptionID snowflake.ID                   `gorm:"not null;uniqueIndex:ux_deliveries_subscription_date,priority:1" json:"subscription_id"`
	UserID         snowflake.ID                   `gorm:"not null;index" json:"user_id"`
	AddressID      snowflake.ID                   `gorm:"not null" json:"address_id"`
	ProductID      snowflake.ID                   `gorm:"not null" json:"product_id"`
	DeliveryDate   time.Time                      `gorm:"type:date;not null;uniqueIndex:ux_deliveries_subscription_date,priority:2;index:ix_deliveries_org_date,priority:2" json:"delivery_date"`
	Quantity       int                            `gorm:"not null" json:"quantity"`
	UnitPrice      decimal.Decimal                `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	PaymentMode    subscriptiondomain.PaymentMode `gorm:"type:text;not null" json:"payment_mode"`
	Status         Status                         `gorm:"type:text;not null;index" json:"status"`
	ProofImageURL  *string                        `gorm:"type:text" json:"proof_image_url,omitempty"`
	ProofNote      *string                        `gorm:"type:text" json:"proof_note,omitempty"`
	DeliveredAt    *time.Time                     `json:"delivered_at,omitempty"`
	FailureReason  *string                        `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt      time.Time                      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                      `gorm:"not null" json:"updated_at"`
}

func (SubscriptionDelivery) TableName() string { return "subscription_deliveries" }

// Amount is quantity times the unit price snapshot.
func (d SubscriptionDelivery) Amount() decimal.Decimal {
	return d.UnitPrice.Mul(decimal.NewFromInt(int64(d.Quantity))).Round(2)
}

// StopStatusFor maps a delivery status onto the status its route stop should
// reach. Statuses with no stop counterpart return false.
func StopStatusFor(status Status) (routedomain.StopStatus, bool) {
	switch status {
	case StatusInTransit:
		return routedomain.StopStatusInTransit, true
	case StatusDelivered:
		return routedomain.StopStatusDelivered, true
	case StatusFailed:
		return routedomain.StopStatusMissed, true
	case StatusCancelled:
		return routedomain.StopStatusCancelled, true
	default:
		return "", false
	}
}

// AdvanceTo moves the delivery one legal edge to target, filling the
// timestamp and reason fields that target implies. Intermediate states are
// never skipped, whichever endpoint asks.
func (d *SubscriptionDelivery) AdvanceTo(target Status, now time.Time, reason *string) error {
	if d.Status == target {
		return nil
	}
	if err := StatusMachine.Transition(d.Status, target); err != nil {
		return err
	}
	d.Status = target
	d.UpdatedAt = now
	switch target {
	case StatusDelivered:
		d.DeliveredAt = &now
	case StatusFailed:
		d.FailureReason = reason
	}
	return nil
}
