package domain

import (
	"context"
	"errors"

	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
)

type CreateOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	UserID       string                         `json:"user_id,omitempty"`
	AddressID    string                         `json:"address_id"`
	DeliveryDate *string                        `json:"delivery_date,omitempty"`
	PaymentMode  subscriptiondomain.PaymentMode `json:"payment_mode"`
	Notes        *string                        `json:"notes,omitempty"`
	Items        []CreateOrderItemRequest       `json:"items"`
}

type ListOrderRequest struct {
	Status    string
	UserID    string
	PageToken string
	PageSize  int32
}

type ListOrderResponse struct {
	pagination.PageInfo
	Orders []Order `json:"orders"`
}

type UpdateStatusRequest struct {
	ID     string      `json:"-"`
	Status OrderStatus `json:"status"`
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (*Order, error)
	List(ctx context.Context, req ListOrderRequest) (ListOrderResponse, error)
	Get(ctx context.Context, id string) (*Order, error)
	Cancel(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*Order, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAddress      = errors.New("invalid_address")
	ErrInvalidItems        = errors.New("invalid_items")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidPaymentMode  = errors.New("invalid_payment_mode")
	ErrInvalidDeliveryDate = errors.New("invalid_delivery_date")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrOrderNotFound       = errors.New("order_not_found")
	// ErrOrderLocked is returned when a customer cancels an order already in fulfilment.
	ErrOrderLocked = errors.New("order_locked")
)
