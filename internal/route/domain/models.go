package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/geo"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
)

type RouteStatus string

const (
	RouteStatusPlanned    RouteStatus = "planned"
	RouteStatusInProgress RouteStatus = "in_progress"
	RouteStatusCompleted  RouteStatus = "completed"
	RouteStatusCancelled  RouteStatus = "cancelled"
)

var RouteMachine = lifecycle.New("route", map[RouteStatus][]RouteStatus{
	RouteStatusPlanned:    {RouteStatusInProgress, RouteStatusCancelled},
	RouteStatusInProgress: {RouteStatusCompleted},
})

type StopStatus string

const (
	StopStatusPending   StopStatus = "pending"
	StopStatusInTransit StopStatus = "in_transit"
	StopStatusDelivered StopStatus = "delivered"
	StopStatusMissed    StopStatus = "missed"
	StopStatusCancelled StopStatus = "cancelled"
)

var StopMachine = lifecycle.New("route_stop", map[StopStatus][]StopStatus{
	StopStatusPending:   {StopStatusInTransit, StopStatusMissed, StopStatusCancelled},
	StopStatusInTransit: {StopStatusDelivered, StopStatusMissed, StopStatusCancelled},
})

type StopType string

const (
	StopTypeSubscriptionDelivery StopType = "subscription_delivery"
	StopTypeOrder                StopType = "order"
)

type Route struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID `gorm:"not null;uniqueIndex:ux_routes_agent_date,priority:1" json:"organization_id"`
	AgentID           snowflake.ID `gorm:"not null;uniqueIndex:ux_routes_agent_date,priority:2" json:"agent_id"`
	RouteDate         time.Time    `gorm:"type:date;not null;uniqueIndex:ux_routes_agent_date,priority:3" json:"route_date"`
	Status            RouteStatus  `gorm:"type:text;not null" json:"status"`
	TotalDistance     float64      `gorm:"not null;default:0" json:"total_distance"`
	EstimatedDuration int          `gorm:"not null;default:0" json:"estimated_duration"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`

	Stops []RouteStop `gorm:"-" json:"stops,omitempty"`
}

func (Route) TableName() string { return "routes" }

// RouteStop references exactly one of a subscription delivery or an order.
type RouteStop struct {
	ID                     snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID                  snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	RouteID                snowflake.ID  `gorm:"not null;index" json:"route_id"`
	StopType               StopType      `gorm:"type:text;not null" json:"stop_type"`
	SubscriptionDeliveryID *snowflake.ID `gorm:"uniqueIndex:ux_route_stops_delivery" json:"subscription_delivery_id,omitempty"`
	OrderID                *snowflake.ID `gorm:"uniqueIndex:ux_route_stops_order" json:"order_id,omitempty"`
	AddressID              snowflake.ID  `gorm:"not null" json:"address_id"`
	Sequence               int           `gorm:"not null" json:"sequence"`
	Status                 StopStatus    `gorm:"type:text;not null" json:"status"`
	Lat                    *float64      `json:"lat,omitempty"`
	Lng                    *float64      `json:"lng,omitempty"`
	Note                   *string       `gorm:"type:text" json:"note,omitempty"`
	CompletedAt            *time.Time    `json:"completed_at,omitempty"`
	CreatedAt              time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time     `gorm:"not null" json:"updated_at"`
}

func (RouteStop) TableName() string { return "route_stops" }

func (s RouteStop) Point() (geo.Point, bool) {
	if s.Lat == nil || s.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *s.Lat, Lng: *s.Lng}, true
}

// RefID is the id of whichever entity the stop points at.
func (s RouteStop) RefID() snowflake.ID {
	switch {
	case s.SubscriptionDeliveryID != nil:
		return *s.SubscriptionDeliveryID
	case s.OrderID != nil:
		return *s.OrderID
	default:
		return 0
	}
}

// Begin moves a planned route to in_progress and reports whether it changed.
func (r *Route) Begin(now time.Time) bool {
	if r.Status != RouteStatusPlanned {
		return false
	}
	r.Status = RouteStatusInProgress
	r.StartedAt = &now
	r.UpdatedAt = now
	return true
}

// AdvanceTo walks the stop along legal edges until it reaches target. A stop
// already terminal is left alone and reports false.
func (s *RouteStop) AdvanceTo(target StopStatus, now time.Time) (bool, error) {
	if s.Status == target || StopMachine.IsTerminal(s.Status) {
		return false, nil
	}
	if _, ok := StopMachine.Path(s.Status, target); !ok {
		return false, StopMachine.Transition(s.Status, target)
	}
	s.Status = target
	s.UpdatedAt = now
	if StopMachine.IsTerminal(target) {
		s.CompletedAt = &now
	}
	return true, nil
}
