package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/geo"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/dairyroute/internal/order/domain"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/recurrence"
	"github.com/smallbiznis/dairyroute/internal/route/domain"
	"github.com/smallbiznis/dairyroute/internal/route/planner"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Planning     *config.PlanningConfigHolder
	Repo         domain.Repository
	UserRepo     userdomain.Repository
	DeliveryRepo deliverydomain.Repository
	OrderRepo    orderdomain.Repository
	Outbox       *events.Outbox      `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	planning     *config.PlanningConfigHolder
	repo         domain.Repository
	userRepo     userdomain.Repository
	deliveryRepo deliverydomain.Repository
	orderRepo    orderdomain.Repository
	outbox       *events.Outbox
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("route.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		planning:     p.Planning,
		repo:         p.Repo,
		userRepo:     p.UserRepo,
		deliveryRepo: p.DeliveryRepo,
		orderRepo:    p.OrderRepo,
		outbox:       p.Outbox,
		obsMetrics:   p.ObsMetrics,
	}
}

// candidate is a delivery or order waiting for a stop.
type candidate struct {
	stopType   domain.StopType
	deliveryID *snowflake.ID
	orderID    *snowflake.ID
	addressID  snowflake.ID
	lat, lng   *float64
}

// PlanDate places every unassigned delivery and routable order of the date
// onto the agents' planned routes. Routes already started keep their stops
// untouched. With no agent available nothing is written and the work is
// counted as unassigned for the next run.
func (s *Service) PlanDate(ctx context.Context, req domain.PlanRequest) (domain.PlanSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.PlanSummary{}, domain.ErrInvalidOrganization
	}
	date := recurrence.Date(req.Date)
	summary := domain.PlanSummary{Date: date}

	agents, err := s.resolveAgents(ctx, orgID, req.AgentIDs)
	if err != nil {
		return domain.PlanSummary{}, err
	}

	opts := s.options()
	maxStops := s.planning.Get().MaxStopsPerRoute
	var planned []domain.Route

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidates, err := s.collectCandidates(ctx, tx, orgID, date)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		if len(agents) == 0 {
			summary.Unassigned = len(candidates)
			s.reportUnassigned(ctx, orgID, date, "no_agents", len(candidates))
			return nil
		}

		now := s.clock.Now()
		open := make([]*domain.Route, 0, len(agents))
		existing := make(map[snowflake.ID][]domain.RouteStop, len(agents))
		for _, agentID := range agents {
			route, err := s.repo.FindOrCreateRoute(ctx, tx, &domain.Route{
				ID:        s.genID.Generate(),
				OrgID:     orgID,
				AgentID:   agentID,
				RouteDate: date,
				Status:    domain.RouteStatusPlanned,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			if route.Status != domain.RouteStatusPlanned {
				summary.Locked++
				continue
			}
			stops, err := s.repo.ListStops(ctx, tx, orgID, route.ID)
			if err != nil {
				return err
			}
			existing[route.ID] = stops
			open = append(open, route)
		}
		if len(open) == 0 {
			summary.Unassigned = len(candidates)
			s.reportUnassigned(ctx, orgID, date, "routes_locked", len(candidates))
			return nil
		}

		points := make([]planner.Stop, len(candidates))
		for i, c := range candidates {
			points[i] = plannerStop(int64(i), c.lat, c.lng)
		}
		sectors := planner.Partition(points, len(open), opts)

		assigned := make([][]planner.Stop, len(open))
		var overflow []planner.Stop
		for i, sector := range sectors {
			room := capacity(maxStops, len(existing[open[i].ID]))
			if room >= len(sector) {
				assigned[i] = sector
				continue
			}
			assigned[i] = sector[:room]
			overflow = append(overflow, sector[room:]...)
		}
		for i := range open {
			if len(overflow) == 0 {
				break
			}
			room := capacity(maxStops, len(existing[open[i].ID])+len(assigned[i]))
			if room <= 0 {
				continue
			}
			if room > len(overflow) {
				room = len(overflow)
			}
			assigned[i] = append(assigned[i], overflow[:room]...)
			overflow = overflow[room:]
		}
		if len(overflow) > 0 {
			summary.Unassigned = len(overflow)
			s.reportUnassigned(ctx, orgID, date, "capacity", len(overflow))
		}

		for i, route := range open {
			if len(assigned[i]) == 0 {
				continue
			}
			fresh := make([]domain.RouteStop, 0, len(assigned[i]))
			for _, p := range assigned[i] {
				c := candidates[p.Key]
				fresh = append(fresh, domain.RouteStop{
					ID:                     s.genID.Generate(),
					OrgID:                  orgID,
					RouteID:                route.ID,
					StopType:               c.stopType,
					SubscriptionDeliveryID: c.deliveryID,
					OrderID:                c.orderID,
					AddressID:              c.addressID,
					Status:                 domain.StopStatusPending,
					Lat:                    c.lat,
					Lng:                    c.lng,
					CreatedAt:              now,
					UpdatedAt:              now,
				})
			}

			all := resequence(append(slices.Clone(existing[route.ID]), fresh...), opts)
			byID := make(map[snowflake.ID]int, len(all))
			for _, stop := range all {
				byID[stop.ID] = stop.Sequence
			}
			for j := range fresh {
				fresh[j].Sequence = byID[fresh[j].ID]
			}
			if err := s.repo.InsertStops(ctx, tx, fresh); err != nil {
				return err
			}
			for _, stop := range existing[route.ID] {
				if byID[stop.ID] == stop.Sequence {
					continue
				}
				stop.Sequence = byID[stop.ID]
				stop.UpdatedAt = now
				if err := s.repo.UpdateStopPlacement(ctx, tx, &stop); err != nil {
					return err
				}
			}

			route.TotalDistance, route.EstimatedDuration = planner.Measure(plannerStops(all), opts)
			route.UpdatedAt = now
			if err := s.repo.UpdateRoute(ctx, tx, route); err != nil {
				return err
			}
			summary.Assigned += len(fresh)

			if s.outbox != nil {
				err := s.outbox.PublishTx(ctx, tx, events.Event{
					OrgID: orgID,
					Type:  events.EventRoutePlanned,
					Payload: map[string]any{
						"route_id":   route.ID.String(),
						"agent_id":   route.AgentID.String(),
						"route_date": date.Format(time.DateOnly),
						"added":      len(fresh),
						"stops":      len(all),
					},
					DedupeKey: fmt.Sprintf("route.planned:%s:%d", route.ID, now.UnixNano()),
				})
				if err != nil {
					return err
				}
			}
		}

		planned, err = s.loadRoutes(ctx, tx, orgID, date)
		return err
	})
	if err != nil {
		return domain.PlanSummary{}, err
	}

	if summary.Assigned > 0 {
		s.obsMetrics.RecordStopsPlanned(ctx, orgID.String(), summary.Assigned)
	}
	summary.Routes = planned
	s.log.Info("planned routes",
		zap.String("org_id", orgID.String()),
		zap.Time("date", date),
		zap.Int("assigned", summary.Assigned),
		zap.Int("unassigned", summary.Unassigned),
		zap.Int("locked_routes", summary.Locked),
	)
	return summary, nil
}

func (s *Service) resolveAgents(ctx context.Context, orgID snowflake.ID, requested []snowflake.ID) ([]snowflake.ID, error) {
	if len(requested) == 0 {
		agents, err := s.userRepo.ListUsersByRole(ctx, s.db, orgID, userdomain.RoleAgent, true)
		if err != nil {
			return nil, err
		}
		ids := make([]snowflake.ID, 0, len(agents))
		for _, agent := range agents {
			ids = append(ids, agent.ID)
		}
		slices.Sort(ids)
		return ids, nil
	}

	ids := slices.Clone(requested)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		user, err := s.userRepo.FindUserByID(ctx, s.db, orgID, id)
		if err != nil {
			return nil, err
		}
		if user == nil || user.Role != userdomain.RoleAgent || !user.IsActive {
			return nil, userdomain.ErrNotAgent
		}
	}
	return ids, nil
}

func (s *Service) collectCandidates(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, date time.Time) ([]candidate, error) {
	deliveries, err := s.deliveryRepo.ListUnassigned(ctx, tx, orgID, date)
	if err != nil {
		return nil, err
	}
	orders, err := s.orderRepo.ListRoutable(ctx, tx, orgID, date)
	if err != nil {
		return nil, err
	}

	addressIDs := make([]snowflake.ID, 0, len(deliveries)+len(orders))
	candidates := make([]candidate, 0, len(deliveries)+len(orders))
	for i := range deliveries {
		id := deliveries[i].ID
		candidates = append(candidates, candidate{
			stopType:   domain.StopTypeSubscriptionDelivery,
			deliveryID: &id,
			addressID:  deliveries[i].AddressID,
		})
		addressIDs = append(addressIDs, deliveries[i].AddressID)
	}
	for i := range orders {
		id := orders[i].ID
		candidates = append(candidates, candidate{
			stopType:  domain.StopTypeOrder,
			orderID:   &id,
			addressID: orders[i].AddressID,
		})
		addressIDs = append(addressIDs, orders[i].AddressID)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	slices.Sort(addressIDs)
	addresses, err := s.userRepo.FindAddressesByIDs(ctx, tx, orgID, slices.Compact(addressIDs))
	if err != nil {
		return nil, err
	}
	located := make(map[snowflake.ID]userdomain.Address, len(addresses))
	for _, address := range addresses {
		located[address.ID] = address
	}
	for i := range candidates {
		if address, ok := located[candidates[i].addressID]; ok {
			candidates[i].lat, candidates[i].lng = address.Lat, address.Lng
		}
	}
	return candidates, nil
}

func (s *Service) reportUnassigned(ctx context.Context, orgID snowflake.ID, date time.Time, reason string, count int) {
	s.log.Warn("stops left unassigned",
		zap.String("org_id", orgID.String()),
		zap.Time("date", date),
		zap.String("reason", reason),
		zap.Int("count", count),
		zap.Error(domain.ErrUnassignedDelivery),
	)
	s.obsMetrics.RecordUnassigned(ctx, orgID.String(), reason, count)
}

// ReassignStop moves a stop to position on routeID. Both routes must still
// be planned and share the same date.
func (s *Service) ReassignStop(ctx context.Context, req domain.ReassignRequest) (*domain.Route, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	stopID, err := parseID(req.StopID)
	if err != nil {
		return nil, err
	}
	routeID, err := parseID(req.RouteID)
	if err != nil {
		return nil, err
	}

	var result *domain.Route
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stop, err := s.repo.FindStopByIDForUpdate(ctx, tx, orgID, stopID)
		if err != nil {
			return err
		}
		if stop == nil {
			return domain.ErrStopNotFound
		}
		source, err := s.repo.FindRouteByIDForUpdate(ctx, tx, orgID, stop.RouteID)
		if err != nil {
			return err
		}
		target := source
		if routeID != stop.RouteID {
			target, err = s.repo.FindRouteByIDForUpdate(ctx, tx, orgID, routeID)
			if err != nil {
				return err
			}
		}
		if source == nil || target == nil {
			return domain.ErrRouteNotFound
		}
		if source.Status != domain.RouteStatusPlanned || target.Status != domain.RouteStatusPlanned {
			return domain.ErrRouteLocked
		}
		if !source.RouteDate.Equal(target.RouteDate) {
			return domain.ErrDateMismatch
		}

		sourceStops, err := s.repo.ListStops(ctx, tx, orgID, source.ID)
		if err != nil {
			return err
		}
		sourceStops = slices.DeleteFunc(sourceStops, func(st domain.RouteStop) bool { return st.ID == stop.ID })

		targetStops := sourceStops
		if target.ID != source.ID {
			targetStops, err = s.repo.ListStops(ctx, tx, orgID, target.ID)
			if err != nil {
				return err
			}
		}
		if req.Position < 1 || req.Position > len(targetStops)+1 {
			return domain.ErrInvalidPosition
		}

		now := s.clock.Now()
		stop.RouteID = target.ID
		targetStops = slices.Insert(targetStops, req.Position-1, *stop)

		if target.ID != source.ID {
			if err := s.renumber(ctx, tx, source, sourceStops, now); err != nil {
				return err
			}
		}
		if err := s.renumber(ctx, tx, target, targetStops, now); err != nil {
			return err
		}

		target.Stops = targetStops
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// renumber writes sequence 1..N in the given order and re-measures the route.
func (s *Service) renumber(ctx context.Context, tx *gorm.DB, route *domain.Route, stops []domain.RouteStop, now time.Time) error {
	for i := range stops {
		stops[i].UpdatedAt = now
		stops[i].Sequence = i + 1
		if err := s.repo.UpdateStopPlacement(ctx, tx, &stops[i]); err != nil {
			return err
		}
	}
	route.TotalDistance, route.EstimatedDuration = planner.Measure(plannerStops(stops), s.options())
	route.UpdatedAt = now
	return s.repo.UpdateRoute(ctx, tx, route)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Route, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	routeID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	route, err := s.repo.FindRouteByID(ctx, s.db, orgID, routeID)
	if err != nil {
		return nil, err
	}
	if route == nil || !canView(ctx, route) {
		return nil, domain.ErrRouteNotFound
	}
	route.Stops, err = s.repo.ListStops(ctx, s.db, orgID, route.ID)
	if err != nil {
		return nil, err
	}
	return route, nil
}

func (s *Service) ListByDate(ctx context.Context, date time.Time) ([]domain.Route, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.loadRoutes(ctx, s.db, orgID, recurrence.Date(date))
}

func (s *Service) AgentRoute(ctx context.Context, agentID snowflake.ID, date time.Time) (*domain.Route, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	route, err := s.repo.FindRouteByAgentDate(ctx, s.db, orgID, agentID, recurrence.Date(date))
	if err != nil {
		return nil, err
	}
	if route == nil || !canView(ctx, route) {
		return nil, domain.ErrRouteNotFound
	}
	route.Stops, err = s.repo.ListStops(ctx, s.db, orgID, route.ID)
	if err != nil {
		return nil, err
	}
	return route, nil
}

func (s *Service) loadRoutes(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, date time.Time) ([]domain.Route, error) {
	routes, err := s.repo.ListRoutesByDate(ctx, conn, orgID, date)
	if err != nil {
		return nil, err
	}
	for i := range routes {
		routes[i].Stops, err = s.repo.ListStops(ctx, conn, orgID, routes[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return routes, nil
}

func (s *Service) Start(ctx context.Context, id string) (*domain.Route, error) {
	return s.transitionRoute(ctx, id, domain.RouteStatusInProgress, func(route *domain.Route, _ []domain.RouteStop, now time.Time) error {
		route.StartedAt = &now
		return nil
	})
}

// Complete closes an in-progress route once every stop reached a terminal status.
func (s *Service) Complete(ctx context.Context, id string) (*domain.Route, error) {
	return s.transitionRoute(ctx, id, domain.RouteStatusCompleted, func(route *domain.Route, stops []domain.RouteStop, now time.Time) error {
		for _, stop := range stops {
			if !domain.StopMachine.IsTerminal(stop.Status) {
				return domain.ErrStopsOutstanding
			}
		}
		route.CompletedAt = &now
		return nil
	})
}

// Cancel drops a planned route. Its stops are removed so the next planning
// run can place the deliveries again.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Route, error) {
	return s.transitionRoute(ctx, id, domain.RouteStatusCancelled, nil)
}

func (s *Service) transitionRoute(
	ctx context.Context,
	id string,
	target domain.RouteStatus,
	apply func(*domain.Route, []domain.RouteStop, time.Time) error,
) (*domain.Route, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	routeID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var result *domain.Route
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		route, err := s.repo.FindRouteByIDForUpdate(ctx, tx, orgID, routeID)
		if err != nil {
			return err
		}
		if route == nil {
			return domain.ErrRouteNotFound
		}
		if err := authorizeAgent(ctx, route); err != nil {
			return err
		}
		if err := domain.RouteMachine.Transition(route.Status, target); err != nil {
			return err
		}
		stops, err := s.repo.ListStops(ctx, tx, orgID, route.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if apply != nil {
			if err := apply(route, stops, now); err != nil {
				return err
			}
		}
		from := route.Status
		route.Status = target
		route.UpdatedAt = now

		if target == domain.RouteStatusCancelled {
			if err := s.repo.DeletePendingStops(ctx, tx, orgID, route.ID); err != nil {
				return err
			}
			route.TotalDistance, route.EstimatedDuration = 0, 0
			stops = nil
		}
		if err := s.repo.UpdateRoute(ctx, tx, route); err != nil {
			return err
		}
		if err := s.publishRouteStatus(ctx, tx, route, from); err != nil {
			return err
		}

		route.Stops = stops
		result = route
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordDeliveryTransition(ctx, domain.RouteMachine.Entity(), string(result.Status))
	return result, nil
}

func (s *Service) publishRouteStatus(ctx context.Context, tx *gorm.DB, route *domain.Route, from domain.RouteStatus) error {
	if s.outbox == nil || from == route.Status {
		return nil
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: route.OrgID,
		Type:  events.EventRouteStatusChanged,
		Payload: map[string]any{
			"route_id": route.ID.String(),
			"agent_id": route.AgentID.String(),
			"from":     string(from),
			"to":       string(route.Status),
		},
		DedupeKey: fmt.Sprintf("route:%s:%s", route.ID, route.Status),
	})
}

// UpdateStop records an agent's progress on a stop and carries it over to
// the delivery or order behind it. A delivery stop only moves when its
// delivery can take the matching single step, so a stop cannot go in_transit
// before the delivery is picked_up.
func (s *Service) UpdateStop(ctx context.Context, req domain.UpdateStopRequest) (*domain.RouteStop, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	stopID, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	target := domain.StopStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if !domain.StopMachine.Known(target) {
		return nil, domain.ErrInvalidStatus
	}

	var result *domain.RouteStop
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stop, err := s.repo.FindStopByIDForUpdate(ctx, tx, orgID, stopID)
		if err != nil {
			return err
		}
		if stop == nil {
			return domain.ErrStopNotFound
		}
		route, err := s.repo.FindRouteByIDForUpdate(ctx, tx, orgID, stop.RouteID)
		if err != nil {
			return err
		}
		if route == nil {
			return domain.ErrRouteNotFound
		}
		if err := authorizeAgent(ctx, route); err != nil {
			return err
		}
		if err := domain.StopMachine.Transition(stop.Status, target); err != nil {
			return err
		}
		if route.Status != domain.RouteStatusPlanned && route.Status != domain.RouteStatusInProgress {
			return domain.ErrRouteLocked
		}

		now := s.clock.Now()
		if target != domain.StopStatusCancelled && route.Begin(now) {
			if err := s.repo.UpdateRoute(ctx, tx, route); err != nil {
				return err
			}
			if err := s.publishRouteStatus(ctx, tx, route, domain.RouteStatusPlanned); err != nil {
				return err
			}
		}

		if note := trimmed(req.Note); note != nil {
			stop.Note = note
		}
		if _, err := stop.AdvanceTo(target, now); err != nil {
			return err
		}
		if err := s.repo.UpdateStopStatus(ctx, tx, stop); err != nil {
			return err
		}

		switch {
		case stop.SubscriptionDeliveryID != nil:
			err = s.mirrorDelivery(ctx, tx, orgID, *stop.SubscriptionDeliveryID, stop, now)
		case stop.OrderID != nil:
			err = s.mirrorOrder(ctx, tx, orgID, *stop.OrderID, stop.Status, now)
		}
		if err != nil {
			return err
		}
		result = stop
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordDeliveryTransition(ctx, domain.StopMachine.Entity(), string(result.Status))
	return result, nil
}

func (s *Service) mirrorDelivery(ctx context.Context, tx *gorm.DB, orgID, deliveryID snowflake.ID, stop *domain.RouteStop, now time.Time) error {
	var target deliverydomain.Status
	switch stop.Status {
	case domain.StopStatusInTransit:
		target = deliverydomain.StatusInTransit
	case domain.StopStatusDelivered:
		target = deliverydomain.StatusDelivered
	case domain.StopStatusMissed:
		target = deliverydomain.StatusFailed
	case domain.StopStatusCancelled:
		target = deliverydomain.StatusCancelled
	default:
		return nil
	}

	delivery, err := s.deliveryRepo.FindByIDForUpdate(ctx, tx, orgID, deliveryID)
	if err != nil || delivery == nil {
		return err
	}
	if delivery.Status == target || deliverydomain.StatusMachine.IsTerminal(delivery.Status) {
		return nil
	}

	reason := stop.Note
	if target == deliverydomain.StatusCancelled && !deliverydomain.StatusMachine.Can(delivery.Status, target) {
		// Already picked up: the drop is recorded as a failure instead.
		target = deliverydomain.StatusFailed
	}
	if target == deliverydomain.StatusFailed && reason == nil {
		why := string(stop.Status)
		reason = &why
	}
	from := delivery.Status
	if err := delivery.AdvanceTo(target, now, reason); err != nil {
		return err
	}
	if err := s.deliveryRepo.UpdateStatus(ctx, tx, delivery); err != nil {
		return err
	}
	if s.outbox == nil {
		return nil
	}
	for _, event := range deliverydomain.StatusEvents(delivery, from) {
		if err := s.outbox.PublishTx(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) mirrorOrder(ctx context.Context, tx *gorm.DB, orgID, orderID snowflake.ID, status domain.StopStatus, now time.Time) error {
	var target orderdomain.OrderStatus
	switch status {
	case domain.StopStatusInTransit:
		target = orderdomain.OrderStatusOutForDelivery
	case domain.StopStatusDelivered:
		target = orderdomain.OrderStatusDelivered
	case domain.StopStatusCancelled:
		target = orderdomain.OrderStatusCancelled
	default:
		// A missed order stays open for the next route.
		return nil
	}

	order, err := s.orderRepo.FindByIDForUpdate(ctx, tx, orgID, orderID)
	if err != nil || order == nil {
		return err
	}
	if order.Status == target || orderdomain.StatusMachine.IsTerminal(order.Status) {
		return nil
	}
	from := order.Status
	if err := order.AdvanceTo(target, now); err != nil {
		return err
	}
	if err := s.orderRepo.UpdateStatus(ctx, tx, order); err != nil {
		return err
	}
	if s.outbox == nil {
		return nil
	}
	for _, event := range orderdomain.StatusEvents(order, from) {
		if err := s.outbox.PublishTx(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

// DetachStops removes or cancels the open stops of the given deliveries and
// orders on tx.
func (s *Service) DetachStops(ctx context.Context, tx *gorm.DB, deliveryIDs, orderIDs []snowflake.ID) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	stops, err := s.repo.ListOpenStopsFor(ctx, tx, orgID, deliveryIDs, orderIDs)
	if err != nil || len(stops) == 0 {
		return err
	}

	byRoute := make(map[snowflake.ID][]domain.RouteStop)
	var routeIDs []snowflake.ID
	for _, stop := range stops {
		if _, seen := byRoute[stop.RouteID]; !seen {
			routeIDs = append(routeIDs, stop.RouteID)
		}
		byRoute[stop.RouteID] = append(byRoute[stop.RouteID], stop)
	}

	now := s.clock.Now()
	var errs []error
	for _, routeID := range routeIDs {
		route, err := s.repo.FindRouteByIDForUpdate(ctx, tx, orgID, routeID)
		if err != nil {
			return err
		}
		if route == nil {
			continue
		}
		detached := byRoute[routeID]

		if route.Status != domain.RouteStatusPlanned {
			for i := range detached {
				stop := &detached[i]
				if _, err := stop.AdvanceTo(domain.StopStatusCancelled, now); err != nil {
					errs = append(errs, err)
					continue
				}
				if err := s.repo.UpdateStopStatus(ctx, tx, stop); err != nil {
					return err
				}
			}
			continue
		}

		ids := make([]snowflake.ID, 0, len(detached))
		for _, stop := range detached {
			ids = append(ids, stop.ID)
		}
		if err := s.repo.DeleteStops(ctx, tx, orgID, ids); err != nil {
			return err
		}
		remaining, err := s.repo.ListStops(ctx, tx, orgID, route.ID)
		if err != nil {
			return err
		}
		if err := s.renumber(ctx, tx, route, resequence(remaining, s.options()), now); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func (s *Service) RelocateDeliveryStop(ctx context.Context, tx *gorm.DB, deliveryID, addressID snowflake.ID) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	stop, err := s.repo.FindStopByDelivery(ctx, tx, orgID, deliveryID)
	if err != nil {
		return err
	}
	if stop == nil || stop.Status != domain.StopStatusPending || stop.AddressID == addressID {
		return nil
	}
	route, err := s.repo.FindRouteByIDForUpdate(ctx, tx, orgID, stop.RouteID)
	if err != nil {
		return err
	}
	if route == nil || route.Status != domain.RouteStatusPlanned {
		return nil
	}

	address, err := s.userRepo.FindAddressByID(ctx, tx, orgID, addressID)
	if err != nil {
		return err
	}
	stop.AddressID = addressID
	stop.Lat, stop.Lng = nil, nil
	if address != nil {
		stop.Lat, stop.Lng = address.Lat, address.Lng
	}
	now := s.clock.Now()
	stop.UpdatedAt = now
	if err := s.repo.UpdateStopLocation(ctx, tx, stop); err != nil {
		return err
	}

	stops, err := s.repo.ListStops(ctx, tx, orgID, route.ID)
	if err != nil {
		return err
	}
	return s.renumber(ctx, tx, route, resequence(stops, s.options()), now)
}

func (s *Service) options() planner.Options {
	cfg := s.planning.Get()
	return planner.Options{
		Depot:          geo.Point{Lat: cfg.Depot.Lat, Lng: cfg.Depot.Lng},
		HasDepot:       cfg.Depot.IsSet(),
		SpeedKmh:       cfg.AverageSpeedKmh,
		ServiceMinutes: cfg.ServiceMinutes,
	}
}

// resequence orders stops by the nearest-neighbour tour and numbers them 1..N.
func resequence(stops []domain.RouteStop, opts planner.Options) []domain.RouteStop {
	index := make(map[int64]domain.RouteStop, len(stops))
	for _, stop := range stops {
		index[int64(stop.ID)] = stop
	}
	ordered := planner.Sequence(plannerStops(stops), opts)
	out := make([]domain.RouteStop, 0, len(ordered))
	for i, p := range ordered {
		stop := index[p.Key]
		stop.Sequence = i + 1
		out = append(out, stop)
	}
	return out
}

func plannerStops(stops []domain.RouteStop) []planner.Stop {
	out := make([]planner.Stop, 0, len(stops))
	for _, stop := range stops {
		out = append(out, plannerStop(int64(stop.ID), stop.Lat, stop.Lng))
	}
	return out
}

func plannerStop(key int64, lat, lng *float64) planner.Stop {
	if lat == nil || lng == nil {
		return planner.Stop{Key: key}
	}
	return planner.Stop{Key: key, Point: geo.Point{Lat: *lat, Lng: *lng}, Located: true}
}

func capacity(maxStops, used int) int {
	if maxStops <= 0 {
		return int(^uint(0) >> 1)
	}
	if used >= maxStops {
		return 0
	}
	return maxStops - used
}

func canView(ctx context.Context, route *domain.Route) bool {
	return authorizeAgent(ctx, route) == nil
}

// authorizeAgent pins agents to their own routes. Other roles pass.
func authorizeAgent(ctx context.Context, route *domain.Route) error {
	if orgcontext.RoleFromContext(ctx) != orgcontext.RoleAgent {
		return nil
	}
	actor, ok := orgcontext.UserIDFromContext(ctx)
	if !ok || route.AgentID != actor {
		return domain.ErrNotRouteAgent
	}
	return nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
