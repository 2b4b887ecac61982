package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	"github.com/smallbiznis/dairyroute/internal/recurrence"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// StatusMachine is the subscription lifecycle. Cancelled is terminal.
var StatusMachine = lifecycle.New("subscription", map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusActive: {SubscriptionStatusPaused, SubscriptionStatusCancelled},
	SubscriptionStatusPaused: {SubscriptionStatusActive, SubscriptionStatusCancelled},
})

type PaymentMode string

const (
	PaymentModePrepaid  PaymentMode = "prepaid"
	PaymentModePostpaid PaymentMode = "postpaid"
)

func (m PaymentMode) Valid() bool {
	return m == PaymentModePrepaid || m == PaymentModePostpaid
}

type Subscription struct {
	ID           snowflake.ID             `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID             `gorm:"not null;index" json:"organization_id"`
	UserID       snowflake.ID             `gorm:"not null;index" json:"user_id"`
	AddressID    snowflake.ID             `gorm:"not null" json:"address_id"`
	ProductID    snowflake.ID             `gorm:"not null" json:"product_id"`
	Quantity     int                      `gorm:"not null" json:"quantity"`
	BillingCycle recurrence.Cycle         `gorm:"type:text;not null" json:"billing_cycle"`
	DeliveryDays datatypes.JSONSlice[int] `gorm:"type:jsonb" json:"delivery_days"`
	StartDate    time.Time                `gorm:"type:date;not null" json:"start_date"`
	EndDate      *time.Time               `gorm:"type:date" json:"end_date,omitempty"`
	PaymentMode  PaymentMode              `gorm:"type:text;not null" json:"payment_mode"`
	Status       SubscriptionStatus       `gorm:"type:text;not null;index" json:"status"`
	PausedAt     *time.Time               `json:"paused_at,omitempty"`
	CancelledAt  *time.Time               `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time                `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Rule decodes the stored recurrence.
func (s Subscription) Rule() (recurrence.Rule, error) {
	return recurrence.ParseRule(string(s.BillingCycle), []int(s.DeliveryDays))
}

func (s Subscription) Window() recurrence.Window {
	return recurrence.Window{Start: s.StartDate, End: s.EndDate}
}
