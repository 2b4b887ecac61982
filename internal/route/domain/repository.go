package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindOrCreateRoute(ctx context.Context, db *gorm.DB, route *Route) (*Route, error)
	FindRouteByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Route, error)
	FindRouteByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Route, error)
	FindRouteByAgentDate(ctx context.Context, db *gorm.DB, orgID, agentID snowflake.ID, date time.Time) (*Route, error)
	ListRoutesByDate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time) ([]Route, error)
	UpdateRoute(ctx context.Context, db *gorm.DB, route *Route) error

	InsertStops(ctx context.Context, db *gorm.DB, stops []RouteStop) error
	FindStopByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*RouteStop, error)
	FindStopByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*RouteStop, error)
	FindStopByDelivery(ctx context.Context, db *gorm.DB, orgID, deliveryID snowflake.ID) (*RouteStop, error)
	FindStopByOrder(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) (*RouteStop, error)
	ListStops(ctx context.Context, db *gorm.DB, orgID, routeID snowflake.ID) ([]RouteStop, error)
	UpdateStopPlacement(ctx context.Context, db *gorm.DB, stop *RouteStop) error
	UpdateStopLocation(ctx context.Context, db *gorm.DB, stop *RouteStop) error
	UpdateStopStatus(ctx context.Context, db *gorm.DB, stop *RouteStop) error
	DeleteStops(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) error
	DeletePendingStops(ctx context.Context, db *gorm.DB, orgID, routeID snowflake.ID) error
	ListOpenStopsFor(ctx context.Context, db *gorm.DB, orgID snowflake.ID, deliveryIDs, orderIDs []snowflake.ID) ([]RouteStop, error)
}
