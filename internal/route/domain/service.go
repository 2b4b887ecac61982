package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PlanRequest struct {
	Date     time.Time
	AgentIDs []snowflake.ID
}

type PlanSummary struct {
	Date       time.Time `json:"date"`
	Routes     []Route   `json:"routes"`
	Assigned   int       `json:"assigned"`
	Unassigned int       `json:"unassigned"`
	Locked     int       `json:"locked_routes"`
}

type ReassignRequest struct {
	StopID   string `json:"-"`
	RouteID  string `json:"route_id"`
	Position int    `json:"position"`
}

type UpdateStopRequest struct {
	ID     string     `json:"-"`
	Status StopStatus `json:"status"`
	Note   *string    `json:"note,omitempty"`
}

type Service interface {
	PlanDate(ctx context.Context, req PlanRequest) (PlanSummary, error)
	ReassignStop(ctx context.Context, req ReassignRequest) (*Route, error)
	Get(ctx context.Context, id string) (*Route, error)
	ListByDate(ctx context.Context, date time.Time) ([]Route, error)
	AgentRoute(ctx context.Context, agentID snowflake.ID, date time.Time) (*Route, error)
	Start(ctx context.Context, id string) (*Route, error)
	Complete(ctx context.Context, id string) (*Route, error)
	Cancel(ctx context.Context, id string) (*Route, error)
	UpdateStop(ctx context.Context, req UpdateStopRequest) (*RouteStop, error)
	// DetachStops takes the given deliveries and orders off their routes on
	// the caller's transaction. Stops on planned routes are removed and the
	// route resequenced; stops on started routes are cancelled.
	DetachStops(ctx context.Context, tx *gorm.DB, deliveryIDs, orderIDs []snowflake.ID) error
	// RelocateDeliveryStop moves a delivery's pending stop to addressID on the
	// caller's transaction and resequences its route. Stops on routes that
	// left the planned state keep their address.
	RelocateDeliveryStop(ctx context.Context, tx *gorm.DB, deliveryID, addressID snowflake.ID) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidPosition     = errors.New("invalid_position")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrRouteNotFound       = errors.New("route_not_found")
	ErrStopNotFound        = errors.New("route_stop_not_found")
	// ErrRouteLocked is returned when a route already left the planned state.
	ErrRouteLocked      = errors.New("route_locked")
	ErrDateMismatch     = errors.New("route_date_mismatch")
	ErrStopsOutstanding = errors.New("route_stops_outstanding")
	ErrNotRouteAgent    = errors.New("not_route_agent")
	// ErrUnassignedDelivery is logged and counted when no agent can take a stop.
	ErrUnassignedDelivery = errors.New("unassigned_delivery")
)
