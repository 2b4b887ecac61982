package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/events"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	"github.com/smallbiznis/dairyroute/internal/recurrence"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	"github.com/smallbiznis/dairyroute/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxMaterializeSpan bounds one MaterializeRange call.
const maxMaterializeSpan = 62 * 24 * time.Hour

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             domain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	ProductRepo      productdomain.Repository
	RouteRepo        routedomain.Repository
	Routes           routedomain.Service `optional:"true"`
	Outbox           *events.Outbox      `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	repo             domain.Repository
	subscriptionRepo subscriptiondomain.Repository
	productRepo      productdomain.Repository
	routeRepo        routedomain.Repository
	routes           routedomain.Service
	outbox           *events.Outbox
	obsMetrics       *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("delivery.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		repo:             p.Repo,
		subscriptionRepo: p.SubscriptionRepo,
		productRepo:      p.ProductRepo,
		routeRepo:        p.RouteRepo,
		routes:           p.Routes,
		outbox:           p.Outbox,
		obsMetrics:       p.ObsMetrics,
	}
}

// Materialize ensures the delivery row for subscription on date exists. It is
// safe to call any number of times: the first call inserts the row with the
// current product price, later calls only refresh quantity and address while
// the row is still scheduled. A refreshed address also moves the delivery's
// stop when its route is still planned.
func (s *Service) Materialize(ctx context.Context, subscription subscriptiondomain.Subscription, date time.Time) (domain.MaterializeResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 || subscription.OrgID != orgID {
		return domain.MaterializeResult{}, domain.ErrInvalidOrganization
	}

	product, err := s.productRepo.FindByID(ctx, s.db, orgID, subscription.ProductID)
	if err != nil {
		return domain.MaterializeResult{}, err
	}
	if product == nil {
		return domain.MaterializeResult{}, db.ErrReferentialIntegrity
	}

	result, err := s.materialize(ctx, subscription, recurrence.Date(date), product.Price)
	if err != nil {
		return domain.MaterializeResult{}, err
	}
	if result.Outcome == domain.OutcomeCreated {
		s.obsMetrics.RecordDeliveriesMaterialized(ctx, orgID.String(), 1)
	}
	return result, nil
}

func (s *Service) materialize(ctx context.Context, subscription subscriptiondomain.Subscription, date time.Time, price decimal.Decimal) (domain.MaterializeResult, error) {
	if subscription.Status != subscriptiondomain.SubscriptionStatusActive {
		return domain.MaterializeResult{Outcome: domain.OutcomeInactive}, nil
	}
	rule, err := subscription.Rule()
	if err != nil {
		return domain.MaterializeResult{}, err
	}
	if !recurrence.Due(rule, subscription.Window(), date) {
		return domain.MaterializeResult{Outcome: domain.OutcomeNotDue}, nil
	}

	now := s.clock.Now()
	delivery := &domain.SubscriptionDelivery{
		ID:             s.genID.Generate(),
		OrgID:          subscription.OrgID,
		SubscriptionID: subscription.ID,
		UserID:         subscription.UserID,
		AddressID:      subscription.AddressID,
		ProductID:      subscription.ProductID,
		DeliveryDate:   date,
		Quantity:       subscription.Quantity,
		UnitPrice:      price.Round(2),
		PaymentMode:    subscription.PaymentMode,
		Status:         domain.StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var result domain.MaterializeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertIfAbsent(ctx, tx, delivery)
		if err != nil {
			return err
		}
		if inserted {
			result = domain.MaterializeResult{Outcome: domain.OutcomeCreated, Delivery: delivery}
			if s.outbox == nil {
				return nil
			}
			return s.outbox.PublishTx(ctx, tx, events.Event{
				OrgID: delivery.OrgID,
				Type:  events.EventDeliveryScheduled,
				Payload: map[string]any{
					"delivery_id":     delivery.ID.String(),
					"subscription_id": delivery.SubscriptionID.String(),
					"delivery_date":   date.Format(subscriptiondomain.DateLayout),
				},
				DedupeKey: "delivery.scheduled:" + delivery.ID.String(),
			})
		}

		refreshed, err := s.repo.RefreshScheduled(ctx, tx, subscription.OrgID, subscription.ID, date, subscription.Quantity, subscription.AddressID, now)
		if err != nil {
			return err
		}
		existing, err := s.repo.FindBySubscriptionAndDate(ctx, tx, subscription.OrgID, subscription.ID, date)
		if err != nil {
			return err
		}
		if refreshed == 0 {
			result = domain.MaterializeResult{Outcome: domain.OutcomeDuplicate, Delivery: existing}
			return nil
		}
		result = domain.MaterializeResult{Outcome: domain.OutcomeRefreshed, Delivery: existing}
		if s.routes == nil || existing == nil {
			return nil
		}
		// A changed address moves the planned stop with it.
		return s.routes.RelocateDeliveryStop(ctx, tx, existing.ID, existing.AddressID)
	})
	if err != nil {
		return domain.MaterializeResult{}, err
	}
	return result, nil
}

// MaterializeRange expands every active subscription of the organization over
// [from, to]. A failing subscription is logged and counted; the others still run.
func (s *Service) MaterializeRange(ctx context.Context, from, to time.Time) (domain.MaterializeSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.MaterializeSummary{}, domain.ErrInvalidOrganization
	}
	from, to = recurrence.Date(from), recurrence.Date(to)
	if to.Before(from) || to.Sub(from) > maxMaterializeSpan {
		return domain.MaterializeSummary{}, domain.ErrInvalidRange
	}

	subscriptions, err := s.subscriptionRepo.ListDeliverable(ctx, s.db, orgID, from, to)
	if err != nil {
		return domain.MaterializeSummary{}, err
	}

	summary := domain.MaterializeSummary{From: from, To: to, Subscriptions: len(subscriptions)}
	prices := make(map[snowflake.ID]decimal.Decimal)
	var errs []error

	for _, subscription := range subscriptions {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.materializeSubscription(ctx, subscription, from, to, prices, &summary); err != nil {
			summary.Failed++
			errs = append(errs, fmt.Errorf("subscription %s: %w", subscription.ID, err))
			s.log.Warn("materialization failed",
				zap.String("subscription_id", subscription.ID.String()),
				zap.Error(err),
			)
		}
	}

	if summary.Created > 0 {
		s.obsMetrics.RecordDeliveriesMaterialized(ctx, orgID.String(), summary.Created)
	}
	s.log.Info("materialized deliveries",
		zap.String("org_id", orgID.String()),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("created", summary.Created),
		zap.Int("refreshed", summary.Refreshed),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("failed", summary.Failed),
	)
	return summary, errors.Join(errs...)
}

func (s *Service) materializeSubscription(
	ctx context.Context,
	subscription subscriptiondomain.Subscription,
	from, to time.Time,
	prices map[snowflake.ID]decimal.Decimal,
	summary *domain.MaterializeSummary,
) error {
	price, ok := prices[subscription.ProductID]
	if !ok {
		product, err := s.productRepo.FindByID(ctx, s.db, subscription.OrgID, subscription.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return db.ErrReferentialIntegrity
		}
		price = product.Price
		prices[subscription.ProductID] = price
	}

	rule, err := subscription.Rule()
	if err != nil {
		return err
	}
	dates, err := recurrence.Expand(rule, subscription.Window(), from, to)
	if err != nil {
		return err
	}
	for date := range dates {
		result, err := s.materialize(ctx, subscription, date, price)
		if err != nil {
			return err
		}
		switch result.Outcome {
		case domain.OutcomeCreated:
			summary.Created++
		case domain.OutcomeRefreshed:
			summary.Refreshed++
		case domain.OutcomeDuplicate:
			summary.Duplicates++
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.SubscriptionDelivery, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	deliveryID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	delivery, err := s.repo.FindByID(ctx, s.db, orgID, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, domain.ErrNotFound
	}
	return delivery, nil
}

func (s *Service) ListForDate(ctx context.Context, date time.Time) ([]domain.SubscriptionDelivery, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListByDate(ctx, s.db, orgID, recurrence.Date(date), nil)
}

// UpdateStatus applies an agent or admin status change and mirrors it onto
// the route stop. The first agent action on a planned route starts it.
func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (*domain.SubscriptionDelivery, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	deliveryID, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	target := domain.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if !domain.StatusMachine.Known(target) {
		return nil, domain.ErrInvalidStatus
	}
	reason := trimmed(req.FailureReason)
	if target == domain.StatusFailed && reason == nil {
		return nil, domain.ErrFailureReason
	}

	var (
		updated *domain.SubscriptionDelivery
		from    domain.Status
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delivery, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, deliveryID)
		if err != nil {
			return err
		}
		if delivery == nil {
			return domain.ErrNotFound
		}

		stop, route, err := s.stopAndRoute(ctx, tx, orgID, delivery.ID)
		if err != nil {
			return err
		}
		if err := s.authorizeAgent(ctx, route); err != nil {
			return err
		}

		if err := domain.StatusMachine.Transition(delivery.Status, target); err != nil {
			return err
		}

		now := s.clock.Now()
		from = delivery.Status
		if err := delivery.AdvanceTo(target, now, reason); err != nil {
			return err
		}
		if target == domain.StatusDelivered {
			delivery.ProofImageURL = trimmed(req.ProofImageURL)
			delivery.ProofNote = trimmed(req.ProofNote)
		}
		if err := s.repo.UpdateStatus(ctx, tx, delivery); err != nil {
			return err
		}

		if err := s.mirrorOntoStop(ctx, tx, delivery, stop, route, now); err != nil {
			return err
		}

		if s.outbox != nil {
			for _, event := range domain.StatusEvents(delivery, from) {
				if err := s.outbox.PublishTx(ctx, tx, event); err != nil {
					return err
				}
			}
		}
		updated = delivery
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordDeliveryTransition(ctx, domain.StatusMachine.Entity(), string(updated.Status))
	return updated, nil
}

func (s *Service) stopAndRoute(ctx context.Context, tx *gorm.DB, orgID, deliveryID snowflake.ID) (*routedomain.RouteStop, *routedomain.Route, error) {
	stop, err := s.routeRepo.FindStopByDelivery(ctx, tx, orgID, deliveryID)
	if err != nil || stop == nil {
		return nil, nil, err
	}
	route, err := s.routeRepo.FindRouteByIDForUpdate(ctx, tx, orgID, stop.RouteID)
	if err != nil {
		return nil, nil, err
	}
	return stop, route, nil
}

// authorizeAgent pins agents to deliveries on their own route.
func (s *Service) authorizeAgent(ctx context.Context, route *routedomain.Route) error {
	if orgcontext.RoleFromContext(ctx) != orgcontext.RoleAgent {
		return nil
	}
	actor, ok := orgcontext.UserIDFromContext(ctx)
	if !ok || route == nil || route.AgentID != actor {
		return domain.ErrNotAssignedAgent
	}
	return nil
}

func (s *Service) mirrorOntoStop(ctx context.Context, tx *gorm.DB, delivery *domain.SubscriptionDelivery, stop *routedomain.RouteStop, route *routedomain.Route, now time.Time) error {
	if stop == nil || route == nil {
		return nil
	}

	if delivery.Status != domain.StatusCancelled && route.Begin(now) {
		if err := s.routeRepo.UpdateRoute(ctx, tx, route); err != nil {
			return err
		}
	}

	target, ok := domain.StopStatusFor(delivery.Status)
	if !ok {
		return nil
	}
	changed, err := stop.AdvanceTo(target, now)
	if err != nil || !changed {
		return err
	}
	return s.routeRepo.UpdateStopStatus(ctx, tx, stop)
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
