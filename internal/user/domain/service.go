package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateUserRequest struct {
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email,omitempty"`
	Role  Role    `json:"role"`
}

type CreateAddressRequest struct {
	UserID    string   `json:"user_id,omitempty"`
	Label     string   `json:"label"`
	Line1     string   `json:"line1"`
	Line2     *string  `json:"line2,omitempty"`
	City      string   `json:"city"`
	Pincode   string   `json:"pincode"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	IsDefault bool     `json:"is_default"`
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (*User, error)
	Get(ctx context.Context, id snowflake.ID) (*User, error)
	ListAgents(ctx context.Context, onlyAvailable bool) ([]User, error)
	SetAvailability(ctx context.Context, agentID string, available bool) (*User, error)
	AvailableAgentIDs(ctx context.Context) ([]snowflake.ID, error)

	AddAddress(ctx context.Context, req CreateAddressRequest) (*Address, error)
	GetAddress(ctx context.Context, id snowflake.ID) (*Address, error)
	ListAddresses(ctx context.Context, userID snowflake.ID) ([]Address, error)
	AddressesByID(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]Address, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidPhone        = errors.New("invalid_phone")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidAddress      = errors.New("invalid_address")
	ErrInvalidCoordinates  = errors.New("invalid_coordinates")
	ErrDuplicatePhone      = errors.New("duplicate_phone")
	ErrNotFound            = errors.New("user_not_found")
	ErrAddressNotFound     = errors.New("address_not_found")
	ErrNotAgent            = errors.New("user_not_agent")
)
