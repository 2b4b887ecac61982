package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
)

type ListSubscriptionRequest struct {
	Status    string
	UserID    string
	PageToken string
	PageSize  int32
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

type CreateSubscriptionRequest struct {
	UserID       string      `json:"user_id,omitempty"`
	AddressID    string      `json:"address_id"`
	ProductID    string      `json:"product_id"`
	Quantity     int         `json:"quantity"`
	BillingCycle string      `json:"billing_cycle"`
	DeliveryDays []int       `json:"delivery_days"`
	StartDate    string      `json:"start_date"`
	EndDate      *string     `json:"end_date,omitempty"`
	PaymentMode  PaymentMode `json:"payment_mode"`
}

// UpdateSubscriptionRequest changes status, quantity or frequency. Only the
// non-nil fields are applied.
type UpdateSubscriptionRequest struct {
	ID           string              `json:"-"`
	Status       *SubscriptionStatus `json:"status,omitempty"`
	Quantity     *int                `json:"quantity,omitempty"`
	BillingCycle *string             `json:"billing_cycle,omitempty"`
	DeliveryDays []int               `json:"delivery_days,omitempty"`
	AddressID    *string             `json:"address_id,omitempty"`
	EndDate      *string             `json:"end_date,omitempty"`
}

type Service interface {
	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	GetByID(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, req UpdateSubscriptionRequest) (*Subscription, error)
	TransitionSubscription(ctx context.Context, subscriptionID string, target SubscriptionStatus) (*Subscription, error)
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return parsed.UTC(), nil
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidAddress       = errors.New("invalid_address")
	ErrInvalidProduct       = errors.New("invalid_product")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidPaymentMode   = errors.New("invalid_payment_mode")
	ErrInvalidDate          = errors.New("invalid_date")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionClosed   = errors.New("subscription_closed")
)
