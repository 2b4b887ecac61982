package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/smallbiznis/dairyroute/internal/events"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	"github.com/smallbiznis/dairyroute/internal/order/domain"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	"github.com/smallbiznis/dairyroute/pkg/db"
	"github.com/smallbiznis/dairyroute/pkg/db/option"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
	"github.com/smallbiznis/dairyroute/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Planning    *config.PlanningConfigHolder
	Repo        domain.Repository
	UserRepo    userdomain.Repository
	ProductRepo productdomain.Repository
	RouteRepo   routedomain.Repository
	Routes      routedomain.Service
	Outbox      *events.Outbox      `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	location *time.Location
	planning *config.PlanningConfigHolder

	repo        domain.Repository
	orderStore  repository.Repository[domain.Order]
	userRepo    userdomain.Repository
	productRepo productdomain.Repository
	routeRepo   routedomain.Repository
	routes      routedomain.Service
	outbox      *events.Outbox
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		location: p.Config.Location(),
		planning: p.Planning,

		repo:        p.Repo,
		orderStore:  repository.ProvideStore[domain.Order](p.DB),
		userRepo:    p.UserRepo,
		productRepo: p.ProductRepo,
		routeRepo:   p.RouteRepo,
		routes:      p.Routes,
		outbox:      p.Outbox,
		obsMetrics:  p.ObsMetrics,
	}
}

// Create prices a one-off order at current product prices. The delivery date
// defaults to tomorrow and may not lie in the past.
func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	userID, err := s.resolveOwner(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	addressID, err := parseID(req.AddressID, domain.ErrInvalidAddress)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrInvalidItems
	}

	mode := subscriptiondomain.PaymentMode(strings.ToLower(strings.TrimSpace(string(req.PaymentMode))))
	if mode == "" {
		mode = subscriptiondomain.PaymentModePrepaid
	}
	if !mode.Valid() {
		return nil, domain.ErrInvalidPaymentMode
	}

	now := s.clock.Now()
	today := clock.StartOfDay(now, s.location)
	deliveryDate := today.AddDate(0, 0, 1)
	if req.DeliveryDate != nil && strings.TrimSpace(*req.DeliveryDate) != "" {
		parsed, err := subscriptiondomain.ParseDate(strings.TrimSpace(*req.DeliveryDate))
		if err != nil {
			return nil, domain.ErrInvalidDeliveryDate
		}
		deliveryDate = parsed
	}
	if deliveryDate.Before(today) {
		return nil, domain.ErrInvalidDeliveryDate
	}

	address, err := s.userRepo.FindAddressByID(ctx, s.db, orgID, addressID)
	if err != nil {
		return nil, err
	}
	if address == nil || address.UserID != userID {
		return nil, db.ErrReferentialIntegrity
	}

	orderID := s.genID.Generate()
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		productID, err := parseID(line.ProductID, domain.ErrInvalidItems)
		if err != nil {
			return nil, err
		}
		product, err := s.productRepo.FindByID(ctx, s.db, orgID, productID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, db.ErrReferentialIntegrity
		}
		if !product.Active {
			return nil, productdomain.ErrInactive
		}
		items = append(items, domain.OrderItem{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price.Round(2),
			CreatedAt: now,
		})
	}

	cfg := s.planning.Get()
	totals := domain.ComputeTotals(items,
		decimal.NewFromFloat(cfg.TaxRate),
		decimal.NewFromFloat(cfg.DeliveryFee),
		decimal.NewFromFloat(cfg.FreeDeliveryAbove),
	)

	order := &domain.Order{
		ID:           orderID,
		OrgID:        orgID,
		UserID:       userID,
		AddressID:    addressID,
		PaymentMode:  mode,
		Status:       domain.OrderStatusPending,
		DeliveryDate: deliveryDate,
		Subtotal:     totals.Subtotal,
		DeliveryFee:  totals.DeliveryFee,
		Tax:          totals.Tax,
		Total:        totals.Total,
		Notes:        trimmed(req.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
		Items:        items,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, order); err != nil {
			return err
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID: orgID,
			Type:  events.EventOrderCreated,
			Payload: map[string]any{
				"order_id":      order.ID.String(),
				"user_id":       order.UserID.String(),
				"delivery_date": deliveryDate.Format(subscriptiondomain.DateLayout),
				"total":         order.Total.StringFixed(2),
			},
			DedupeKey: "order.created:" + order.ID.String(),
		})
	})
	if err != nil {
		if db.IsForeignKeyErr(err) {
			return nil, db.ErrReferentialIntegrity
		}
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("total", order.Total.StringFixed(2)),
	)
	return order, nil
}

func (s *Service) List(ctx context.Context, req domain.ListOrderRequest) (domain.ListOrderResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListOrderResponse{}, domain.ErrInvalidOrganization
	}

	filter := &domain.Order{OrgID: orgID}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed := domain.OrderStatus(strings.ToLower(status))
		if !domain.StatusMachine.Known(parsed) {
			return domain.ListOrderResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = parsed
	}

	if !orgcontext.IsPrivileged(ctx) {
		actor, ok := orgcontext.UserIDFromContext(ctx)
		if !ok {
			return domain.ListOrderResponse{}, domain.ErrInvalidUser
		}
		filter.UserID = actor
	} else if req.UserID != "" {
		userID, err := parseID(req.UserID, domain.ErrInvalidUser)
		if err != nil {
			return domain.ListOrderResponse{}, err
		}
		filter.UserID = userID
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}
	items, err := s.orderStore.Find(ctx, filter,
		option.ApplyPagination(page),
		option.WithSortBy(option.SortBy{Column: "id", Desc: true}),
	)
	if err != nil {
		return domain.ListOrderResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), func(item *domain.Order) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt.Format(time.RFC3339)}
	})

	orders := make([]domain.Order, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		orders = append(orders, *item)
	}

	resp := domain.ListOrderResponse{Orders: orders}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	orderID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.FindByID(ctx, s.db, orgID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || !canAccess(ctx, order) {
		return nil, domain.ErrOrderNotFound
	}
	order.Items, err = s.repo.ListItems(ctx, s.db, orgID, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel lets the owner withdraw an order that has not entered fulfilment.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Order, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	orderID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, orgID, orderID, domain.OrderStatusCancelled, func(order *domain.Order) error {
		if !canAccess(ctx, order) {
			return domain.ErrOrderNotFound
		}
		if !orgcontext.IsPrivileged(ctx) &&
			order.Status != domain.OrderStatusPending &&
			order.Status != domain.OrderStatusConfirmed {
			return domain.ErrOrderLocked
		}
		return nil
	})
}

func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (*domain.Order, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	orderID, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if !domain.StatusMachine.Known(target) {
		return nil, domain.ErrInvalidStatus
	}
	return s.transition(ctx, orgID, orderID, target, nil)
}

func (s *Service) transition(
	ctx context.Context,
	orgID, orderID snowflake.ID,
	target domain.OrderStatus,
	check func(*domain.Order) error,
) (*domain.Order, error) {
	var (
		updated *domain.Order
		from    domain.OrderStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if check != nil {
			if err := check(order); err != nil {
				return err
			}
		}
		if err := domain.StatusMachine.Transition(order.Status, target); err != nil {
			return err
		}

		now := s.clock.Now()
		from = order.Status
		if err := order.AdvanceTo(target, now); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, order); err != nil {
			return err
		}
		if err := s.syncStop(ctx, tx, order, now); err != nil {
			return err
		}

		if s.outbox != nil {
			for _, event := range domain.StatusEvents(order, from) {
				if err := s.outbox.PublishTx(ctx, tx, event); err != nil {
					return err
				}
			}
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordDeliveryTransition(ctx, domain.StatusMachine.Entity(), string(updated.Status))
	return updated, nil
}

// syncStop keeps the order's route stop in step: cancelled or refunded orders
// leave their route, delivery progress is mirrored onto the stop.
func (s *Service) syncStop(ctx context.Context, tx *gorm.DB, order *domain.Order, now time.Time) error {
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded {
		return s.routes.DetachStops(ctx, tx, nil, []snowflake.ID{order.ID})
	}

	target, ok := domain.StopStatusFor(order.Status)
	if !ok {
		return nil
	}
	stop, err := s.routeRepo.FindStopByOrder(ctx, tx, order.OrgID, order.ID)
	if err != nil || stop == nil {
		return err
	}
	route, err := s.routeRepo.FindRouteByIDForUpdate(ctx, tx, order.OrgID, stop.RouteID)
	if err != nil {
		return err
	}
	if route != nil && route.Begin(now) {
		if err := s.routeRepo.UpdateRoute(ctx, tx, route); err != nil {
			return err
		}
	}
	changed, err := stop.AdvanceTo(target, now)
	if err != nil || !changed {
		return err
	}
	return s.routeRepo.UpdateStopStatus(ctx, tx, stop)
}

func canAccess(ctx context.Context, order *domain.Order) bool {
	if orgcontext.IsPrivileged(ctx) {
		return true
	}
	actor, ok := orgcontext.UserIDFromContext(ctx)
	return ok && actor == order.UserID
}

func (s *Service) resolveOwner(ctx context.Context, raw string) (snowflake.ID, error) {
	if orgcontext.IsPrivileged(ctx) && strings.TrimSpace(raw) != "" {
		return parseID(raw, domain.ErrInvalidUser)
	}
	if actor, ok := orgcontext.UserIDFromContext(ctx); ok {
		return actor, nil
	}
	return parseID(raw, domain.ErrInvalidUser)
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
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
