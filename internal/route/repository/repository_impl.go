package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/route/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const routeColumns = `id, org_id, agent_id, route_date, status, total_distance, estimated_duration,
	started_at, completed_at, created_at, updated_at`

const stopColumns = `id, org_id, route_id, stop_type, subscription_delivery_id, order_id, address_id,
	sequence, status, lat, lng, note, completed_at, created_at, updated_at`

// FindOrCreateRoute returns the existing route for (agent, date) or inserts route.
func (r *repo) FindOrCreateRoute(ctx context.Context, db *gorm.DB, route *domain.Route) (*domain.Route, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO routes (`+routeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, agent_id, route_date) DO NOTHING`,
		route.ID,
		route.OrgID,
		route.AgentID,
		route.RouteDate,
		route.Status,
		route.TotalDistance,
		route.EstimatedDuration,
		route.StartedAt,
		route.CompletedAt,
		route.CreatedAt,
		route.UpdatedAt,
	).Error
	if err != nil {
		return nil, err
	}
	return r.findRoute(ctx, db,
		`SELECT `+routeColumns+` FROM routes WHERE org_id = ? AND agent_id = ? AND route_date = ? FOR UPDATE`,
		route.OrgID, route.AgentID, route.RouteDate,
	)
}

func (r *repo) FindRouteByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Route, error) {
	return r.findRoute(ctx, db, `SELECT `+routeColumns+` FROM routes WHERE org_id = ? AND id = ?`, orgID, id)
}

func (r *repo) FindRouteByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Route, error) {
	return r.findRoute(ctx, db, `SELECT `+routeColumns+` FROM routes WHERE org_id = ? AND id = ? FOR UPDATE`, orgID, id)
}

func (r *repo) FindRouteByAgentDate(ctx context.Context, db *gorm.DB, orgID, agentID snowflake.ID, date time.Time) (*domain.Route, error) {
	return r.findRoute(ctx, db,
		`SELECT `+routeColumns+` FROM routes WHERE org_id = ? AND agent_id = ? AND route_date = ?`,
		orgID, agentID, date,
	)
}

func (r *repo) findRoute(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Route, error) {
	var route domain.Route
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&route).Error; err != nil {
		return nil, err
	}
	if route.ID == 0 {
		return nil, nil
	}
	return &route, nil
}

func (r *repo) ListRoutesByDate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time) ([]domain.Route, error) {
	var routes []domain.Route
	err := db.WithContext(ctx).Raw(
		`SELECT `+routeColumns+` FROM routes WHERE org_id = ? AND route_date = ? ORDER BY agent_id ASC`,
		orgID, date,
	).Scan(&routes).Error
	return routes, err
}

func (r *repo) UpdateRoute(ctx context.Context, db *gorm.DB, route *domain.Route) error {
	return db.WithContext(ctx).Exec(
		`UPDATE routes
		 SET status = ?, total_distance = ?, estimated_duration = ?, started_at = ?, completed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		route.Status,
		route.TotalDistance,
		route.EstimatedDuration,
		route.StartedAt,
		route.CompletedAt,
		route.UpdatedAt,
		route.OrgID,
		route.ID,
	).Error
}

func (r *repo) InsertStops(ctx context.Context, db *gorm.DB, stops []domain.RouteStop) error {
	for i := range stops {
		stop := &stops[i]
		err := db.WithContext(ctx).Exec(
			`INSERT INTO route_stops (`+stopColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stop.ID,
			stop.OrgID,
			stop.RouteID,
			stop.StopType,
			stop.SubscriptionDeliveryID,
			stop.OrderID,
			stop.AddressID,
			stop.Sequence,
			stop.Status,
			stop.Lat,
			stop.Lng,
			stop.Note,
			stop.CompletedAt,
			stop.CreatedAt,
			stop.UpdatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindStopByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.RouteStop, error) {
	return r.findStop(ctx, db, `SELECT `+stopColumns+` FROM route_stops WHERE org_id = ? AND id = ?`, orgID, id)
}

func (r *repo) FindStopByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.RouteStop, error) {
	return r.findStop(ctx, db, `SELECT `+stopColumns+` FROM route_stops WHERE org_id = ? AND id = ? FOR UPDATE`, orgID, id)
}

func (r *repo) FindStopByDelivery(ctx context.Context, db *gorm.DB, orgID, deliveryID snowflake.ID) (*domain.RouteStop, error) {
	return r.findStop(ctx, db,
		`SELECT `+stopColumns+` FROM route_stops WHERE org_id = ? AND subscription_delivery_id = ?`,
		orgID, deliveryID,
	)
}

func (r *repo) FindStopByOrder(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) (*domain.RouteStop, error) {
	return r.findStop(ctx, db,
		`SELECT `+stopColumns+` FROM route_stops WHERE org_id = ? AND order_id = ?`,
		orgID, orderID,
	)
}

func (r *repo) findStop(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.RouteStop, error) {
	var stop domain.RouteStop
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&stop).Error; err != nil {
		return nil, err
	}
	if stop.ID == 0 {
		return nil, nil
	}
	return &stop, nil
}

func (r *repo) ListStops(ctx context.Context, db *gorm.DB, orgID, routeID snowflake.ID) ([]domain.RouteStop, error) {
	var stops []domain.RouteStop
	err := db.WithContext(ctx).Raw(
		`SELECT `+stopColumns+` FROM route_stops WHERE org_id = ? AND route_id = ? ORDER BY sequence ASC`,
		orgID, routeID,
	).Scan(&stops).Error
	return stops, err
}

func (r *repo) UpdateStopPlacement(ctx context.Context, db *gorm.DB, stop *domain.RouteStop) error {
	return db.WithContext(ctx).Exec(
		`UPDATE route_stops SET route_id = ?, sequence = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		stop.RouteID,
		stop.Sequence,
		stop.UpdatedAt,
		stop.OrgID,
		stop.ID,
	).Error
}

func (r *repo) UpdateStopLocation(ctx context.Context, db *gorm.DB, stop *domain.RouteStop) error {
	return db.WithContext(ctx).Exec(
		`UPDATE route_stops SET address_id = ?, lat = ?, lng = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		stop.AddressID,
		stop.Lat,
		stop.Lng,
		stop.UpdatedAt,
		stop.OrgID,
		stop.ID,
	).Error
}

func (r *repo) UpdateStopStatus(ctx context.Context, db *gorm.DB, stop *domain.RouteStop) error {
	return db.WithContext(ctx).Exec(
		`UPDATE route_stops SET status = ?, note = ?, completed_at = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		stop.Status,
		stop.Note,
		stop.CompletedAt,
		stop.UpdatedAt,
		stop.OrgID,
		stop.ID,
	).Error
}

func (r *repo) DeleteStops(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(`DELETE FROM route_stops WHERE org_id = ? AND id IN ?`, orgID, ids).Error
}

func (r *repo) DeletePendingStops(ctx context.Context, db *gorm.DB, orgID, routeID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM route_stops WHERE org_id = ? AND route_id = ? AND status = ?`,
		orgID, routeID, domain.StopStatusPending,
	).Error
}

func (r *repo) ListOpenStopsFor(ctx context.Context, db *gorm.DB, orgID snowflake.ID, deliveryIDs, orderIDs []snowflake.ID) ([]domain.RouteStop, error) {
	if len(deliveryIDs) == 0 && len(orderIDs) == 0 {
		return nil, nil
	}
	stmt := db.WithContext(ctx).
		Model(&domain.RouteStop{}).
		Where("org_id = ? AND status IN ?", orgID, []domain.StopStatus{domain.StopStatusPending, domain.StopStatusInTransit})
	switch {
	case len(deliveryIDs) > 0 && len(orderIDs) > 0:
		stmt = stmt.Where("(subscription_delivery_id IN ? OR order_id IN ?)", deliveryIDs, orderIDs)
	case len(deliveryIDs) > 0:
		stmt = stmt.Where("subscription_delivery_id IN ?", deliveryIDs)
	default:
		stmt = stmt.Where("order_id IN ?", orderIDs)
	}
	var stops []domain.RouteStop
	if err := stmt.Order("route_id ASC, sequence ASC").Find(&stops).Error; err != nil {
		return nil, err
	}
	return stops, nil
}
