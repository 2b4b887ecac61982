package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

var StatusMachine = lifecycle.New("order", map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusConfirmed, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusConfirmed:      {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing:     {OrderStatusOutForDelivery, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
})

// Routable lists the statuses the planner picks orders up in.
var Routable = []OrderStatus{OrderStatusConfirmed, OrderStatusProcessing}

type Order struct {
	ID           snowflake.ID                   `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID                   `gorm:"not null;index:ix_orders_org_date,priority:1" json:"organization_id"`
	UserID       snowflake.ID                   `gorm:"not null;index" json:"user_id"`
	AddressID    snowflake.ID                   `gorm:"not null" json:"address_id"`
	PaymentMode  subscriptiondomain.PaymentMode `gorm:"type:text;not null" json:"payment_mode"`
	Status       OrderStatus                    `gorm:"type:text;not null;index" json:"status"`
	DeliveryDate time.Time                      `gorm:"type:date;not null;index:ix_orders_org_date,priority:2" json:"delivery_date"`
	Subtotal     decimal.Decimal                `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	DeliveryFee  decimal.Decimal                `gorm:"type:decimal(10,2);not null" json:"delivery_fee"`
	Tax          decimal.Decimal                `gorm:"type:decimal(10,2);not null" json:"tax"`
	Total        decimal.Decimal                `gorm:"type:decimal(10,2);not null" json:"total"`
	Notes        *string                        `gorm:"type:text" json:"notes,omitempty"`
	DeliveredAt  *time.Time                     `json:"delivered_at,omitempty"`
	CancelledAt  *time.Time                     `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time                      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time                      `gorm:"not null" json:"updated_at"`

	Items []OrderItem `gorm:"-" json:"items,omitempty"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID    `gorm:"not null" json:"organization_id"`
	OrderID   snowflake.ID    `gorm:"not null;index" json:"order_id"`
	ProductID snowflake.ID    `gorm:"not null" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	LineTotal decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"line_total"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

func (OrderItem) TableName() string { return "order_items" }

// Totals holds the money breakdown of an order.
type Totals struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

// ComputeTotals prices items: line_total = quantity × unit_price, subtotal is
// their sum, tax is taxRate on the subtotal and the delivery fee is waived
// once the subtotal reaches freeAbove (when freeAbove is positive).
func ComputeTotals(items []OrderItem, taxRate, fee, freeAbove decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for i := range items {
		items[i].LineTotal = items[i].UnitPrice.Mul(decimal.NewFromInt(int64(items[i].Quantity))).Round(2)
		subtotal = subtotal.Add(items[i].LineTotal)
	}
	deliveryFee := fee.Round(2)
	if freeAbove.IsPositive() && subtotal.GreaterThanOrEqual(freeAbove) {
		deliveryFee = decimal.Zero
	}
	tax := subtotal.Mul(taxRate).Round(2)
	return Totals{
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
		Tax:         tax,
		Total:       subtotal.Add(deliveryFee).Add(tax),
	}
}

// StopStatusFor maps an order status onto its route stop status.
func StopStatusFor(status OrderStatus) (routedomain.StopStatus, bool) {
	switch status {
	case OrderStatusOutForDelivery:
		return routedomain.StopStatusInTransit, true
	case OrderStatusDelivered:
		return routedomain.StopStatusDelivered, true
	default:
		return "", false
	}
}

// AdvanceTo walks the order along legal edges to target.
func (o *Order) AdvanceTo(target OrderStatus, now time.Time) error {
	if o.Status == target {
		return nil
	}
	if _, ok := StatusMachine.Path(o.Status, target); !ok {
		return StatusMachine.Transition(o.Status, target)
	}
	o.Status = target
	o.UpdatedAt = now
	switch target {
	case OrderStatusDelivered:
		o.DeliveredAt = &now
	case OrderStatusCancelled, OrderStatusRefunded:
		o.CancelledAt = &now
	}
	return nil
}
