package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	"gorm.io/datatypes"
)

type PaymentType string

const (
	PaymentTypeTopup             PaymentType = "topup"
	PaymentTypeInvoiceSettlement PaymentType = "invoice_settlement"
	PaymentTypeRefund            PaymentType = "refund"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeTopup, PaymentTypeInvoiceSettlement, PaymentTypeRefund:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// A failed checkout attempt can be followed by a successful one on the same
// gateway order, so failed is not terminal.
var StatusMachine = lifecycle.New("payment", map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:  {PaymentStatusCompleted},
})

// PaymentMethod is how the money moved. Gateway payments are created by the
// topup flow; the rest are recorded by an admin.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodUPI          PaymentMethod = "upi"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodGateway      PaymentMethod = "gateway"
)

func (m PaymentMethod) Manual() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodUPI, PaymentMethodBankTransfer:
		return true
	}
	return false
}

type Payment struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID            snowflake.ID    `json:"org_id" gorm:"not null;index"`
	UserID           snowflake.ID    `json:"user_id" gorm:"not null;index"`
	InvoiceID        *snowflake.ID   `json:"invoice_id,omitempty" gorm:"index"`
	Type             PaymentType     `json:"type" gorm:"type:text;not null"`
	Status           PaymentStatus   `json:"status" gorm:"type:text;not null"`
	Method           PaymentMethod   `json:"method" gorm:"type:text;not null"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency         string          `json:"currency" gorm:"type:text;not null"`
	Provider         *string         `json:"provider,omitempty" gorm:"type:text;uniqueIndex:ux_payments_gateway_order,priority:1"`
	GatewayOrderID   *string         `json:"gateway_order_id,omitempty" gorm:"type:text;uniqueIndex:ux_payments_gateway_order,priority:2"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty" gorm:"type:text"`
	Reference        *string         `json:"reference,omitempty" gorm:"type:text"`
	FailureReason    *string         `json:"failure_reason,omitempty" gorm:"type:text"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// EventRecord is a gateway webhook as received. A provider event id is
// stored once; ProcessedAt is set after the payment it refers to is settled.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           *snowflake.ID  `json:"org_id,omitempty" gorm:"index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	PaymentID       *snowflake.ID  `json:"payment_id,omitempty" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentCaptured = "payment_captured"
	EventTypePaymentFailed   = "payment_failed"
)

// GatewayEvent is the provider-neutral form of a webhook, produced by an adapter.
type GatewayEvent struct {
	Provider         string
	ProviderEventID  string
	Type             string
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           decimal.Decimal
	Currency         string
	FailureReason    string
	OccurredAt       time.Time
}
