package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
}

type ListRequest struct {
	Name    string
	Active  *bool
	SortBy  string
	OrderBy string
}

type CreateRequest struct {
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description *string         `json:"description"`
	Unit        string          `json:"unit"`
	Price       decimal.Decimal `json:"price"`
	Active      *bool           `json:"active"`
	Metadata    map[string]any  `json:"metadata"`
}

type UpdateRequest struct {
	ID          string           `json:"-"`
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Active      *bool            `json:"active"`
}

type Response struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Slug           string          `json:"slug"`
	Name           string          `json:"name"`
	Description    *string         `json:"description,omitempty"`
	Unit           string          `json:"unit"`
	Price          decimal.Decimal `json:"price"`
	Active         bool            `json:"active"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidUnit         = errors.New("invalid_unit")
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrDuplicateSlug       = errors.New("duplicate_slug")
	ErrNotFound            = errors.New("product_not_found")
	ErrInactive            = errors.New("product_inactive")
	ErrInvalidID           = errors.New("invalid_id")
)
