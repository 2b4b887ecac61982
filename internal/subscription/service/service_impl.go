package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	"github.com/smallbiznis/dairyroute/internal/recurrence"
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

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID            *snowflake.Node
	clock            clock.Clock
	location         *time.Location
	repo             subscriptiondomain.Repository
	subscriptionRepo repository.Repository[subscriptiondomain.Subscription]
	userRepo         userdomain.Repository
	productRepo      productdomain.Repository
	deliveryRepo     deliverydomain.Repository
	routes           routedomain.Service
	outbox           *events.Outbox
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	Repo         subscriptiondomain.Repository
	UserRepo     userdomain.Repository
	ProductRepo  productdomain.Repository
	DeliveryRepo deliverydomain.Repository
	Routes       routedomain.Service
	Outbox       *events.Outbox `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:            p.GenID,
		clock:            p.Clock,
		location:         p.Config.Location(),
		repo:             p.Repo,
		subscriptionRepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
		userRepo:         p.UserRepo,
		productRepo:      p.ProductRepo,
		deliveryRepo:     p.DeliveryRepo,
		routes:           p.Routes,
		outbox:           p.Outbox,
	}
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidOrganization
	}

	filter := &subscriptiondomain.Subscription{OrgID: orgID}

	if status := strings.TrimSpace(req.Status); status != "" {
		parsed := subscriptiondomain.SubscriptionStatus(strings.ToLower(status))
		if !subscriptiondomain.StatusMachine.Known(parsed) {
			return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidStatus
		}
		filter.Status = parsed
	}

	if !orgcontext.IsPrivileged(ctx) {
		actor, ok := orgcontext.UserIDFromContext(ctx)
		if !ok {
			return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidUser
		}
		filter.UserID = actor
	} else if req.UserID != "" {
		userID, err := s.parseID(req.UserID, subscriptiondomain.ErrInvalidUser)
		if err != nil {
			return subscriptiondomain.ListSubscriptionResponse{}, err
		}
		filter.UserID = userID
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}
	items, err := s.subscriptionRepo.Find(ctx, filter,
		option.ApplyPagination(page),
		option.WithSortBy(option.SortBy{Column: "id", Desc: true}),
	)
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), func(item *subscriptiondomain.Subscription) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt.Format(time.RFC3339)}
	})

	subscriptions := make([]subscriptiondomain.Subscription, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		subscriptions = append(subscriptions, *item)
	}

	resp := subscriptiondomain.ListSubscriptionResponse{Subscriptions: subscriptions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	userID, err := s.resolveOwner(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	addressID, err := s.parseID(req.AddressID, subscriptiondomain.ErrInvalidAddress)
	if err != nil {
		return nil, err
	}
	productID, err := s.parseID(req.ProductID, subscriptiondomain.ErrInvalidProduct)
	if err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, subscriptiondomain.ErrInvalidQuantity
	}
	mode := subscriptiondomain.PaymentMode(strings.ToLower(strings.TrimSpace(string(req.PaymentMode))))
	if mode == "" {
		mode = subscriptiondomain.PaymentModePostpaid
	}
	if !mode.Valid() {
		return nil, subscriptiondomain.ErrInvalidPaymentMode
	}

	rule, err := recurrence.ParseRule(req.BillingCycle, req.DeliveryDays)
	if err != nil {
		return nil, err
	}

	startDate, err := subscriptiondomain.ParseDate(strings.TrimSpace(req.StartDate))
	if err != nil {
		return nil, err
	}
	endDate, err := parseOptionalDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	if endDate != nil && endDate.Before(startDate) {
		return nil, subscriptiondomain.ErrInvalidPeriod
	}

	if err := s.checkReferences(ctx, s.db, orgID, userID, addressID, &productID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	subscription := subscriptiondomain.Subscription{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		UserID:       userID,
		AddressID:    addressID,
		ProductID:    productID,
		Quantity:     req.Quantity,
		BillingCycle: rule.Cycle(),
		DeliveryDays: rule.Days(),
		StartDate:    startDate,
		EndDate:      endDate,
		PaymentMode:  mode,
		Status:       subscriptiondomain.SubscriptionStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Insert(ctx, s.db, &subscription); err != nil {
		if db.IsForeignKeyErr(err) {
			return nil, db.ErrReferentialIntegrity
		}
		return nil, err
	}
	return &subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if item == nil || !s.canAccess(ctx, item) {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return item, nil
}

// Update applies quantity, address, frequency and status changes in one
// transaction. Scheduled deliveries pick up the new quantity and address on
// the next materialization run.
func (s *Service) Update(ctx context.Context, req subscriptiondomain.UpdateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	id, err := s.parseID(req.ID, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}
	if req.Quantity != nil && *req.Quantity <= 0 {
		return nil, subscriptiondomain.ErrInvalidQuantity
	}

	var updated *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if subscription == nil || !s.canAccess(ctx, subscription) {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		scheduleChanged := req.Quantity != nil || req.BillingCycle != nil || req.DeliveryDays != nil || req.AddressID != nil || req.EndDate != nil
		if scheduleChanged && subscription.Status == subscriptiondomain.SubscriptionStatusCancelled {
			return subscriptiondomain.ErrSubscriptionClosed
		}

		if req.Quantity != nil {
			subscription.Quantity = *req.Quantity
		}
		if req.AddressID != nil {
			addressID, err := s.parseID(*req.AddressID, subscriptiondomain.ErrInvalidAddress)
			if err != nil {
				return err
			}
			if err := s.checkReferences(ctx, tx, orgID, subscription.UserID, addressID, nil); err != nil {
				return err
			}
			subscription.AddressID = addressID
		}

		frequencyChanged := req.BillingCycle != nil || req.DeliveryDays != nil
		if frequencyChanged {
			cycle := string(subscription.BillingCycle)
			if req.BillingCycle != nil {
				cycle = *req.BillingCycle
			}
			days := []int(subscription.DeliveryDays)
			if req.DeliveryDays != nil {
				days = req.DeliveryDays
			}
			rule, err := recurrence.ParseRule(cycle, days)
			if err != nil {
				return err
			}
			subscription.BillingCycle = rule.Cycle()
			subscription.DeliveryDays = rule.Days()
		}

		if req.EndDate != nil {
			endDate, err := parseOptionalDate(req.EndDate)
			if err != nil {
				return err
			}
			if endDate != nil && endDate.Before(subscription.StartDate) {
				return subscriptiondomain.ErrInvalidPeriod
			}
			subscription.EndDate = endDate
		}

		now := s.clock.Now()
		subscription.UpdatedAt = now

		if frequencyChanged || req.EndDate != nil {
			if err := s.dropUndueDeliveries(ctx, tx, subscription); err != nil {
				return err
			}
		}

		if req.Status != nil && *req.Status != subscription.Status {
			if err := s.applyTransition(ctx, tx, subscription, *req.Status, now); err != nil {
				return err
			}
		}

		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}
		updated = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) TransitionSubscription(ctx context.Context, subscriptionID string, target subscriptiondomain.SubscriptionStatus) (*subscriptiondomain.Subscription, error) {
	return s.Update(ctx, subscriptiondomain.UpdateSubscriptionRequest{ID: subscriptionID, Status: &target})
}

func (s *Service) applyTransition(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, target subscriptiondomain.SubscriptionStatus, now time.Time) error {
	if !subscriptiondomain.StatusMachine.Known(target) {
		return subscriptiondomain.ErrInvalidStatus
	}
	if err := subscriptiondomain.StatusMachine.Transition(subscription.Status, target); err != nil {
		return err
	}

	today := clock.StartOfDay(now, s.location)
	previous := subscription.Status

	switch target {
	case subscriptiondomain.SubscriptionStatusPaused:
		subscription.PausedAt = &now
		if err := s.cancelScheduledFrom(ctx, tx, subscription, today); err != nil {
			return err
		}
	case subscriptiondomain.SubscriptionStatusCancelled:
		subscription.CancelledAt = &now
		if err := s.cancelScheduledFrom(ctx, tx, subscription, today); err != nil {
			return err
		}
	case subscriptiondomain.SubscriptionStatusActive:
		subscription.PausedAt = nil
		removed, err := s.deliveryRepo.DeleteCancelledFrom(ctx, tx, subscription.OrgID, subscription.ID, today)
		if err != nil {
			return err
		}
		if removed > 0 {
			s.log.Info("released paused delivery dates",
				zap.String("subscription_id", subscription.ID.String()),
				zap.Int64("count", removed),
			)
		}
	}
	subscription.Status = target

	if s.outbox != nil {
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID: subscription.OrgID,
			Type:  events.EventSubscriptionStatusChanged,
			Payload: map[string]any{
				"subscription_id": subscription.ID.String(),
				"user_id":         subscription.UserID.String(),
				"from":            string(previous),
				"to":              string(target),
			},
		})
	}
	return nil
}

// cancelScheduledFrom moves every scheduled delivery dated on or after from
// to cancelled and takes it off its route.
func (s *Service) cancelScheduledFrom(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, from time.Time) error {
	scheduled, err := s.deliveryRepo.ListScheduledFrom(ctx, tx, subscription.OrgID, subscription.ID, from)
	if err != nil {
		return err
	}
	ids := make([]snowflake.ID, 0, len(scheduled))
	for _, delivery := range scheduled {
		ids = append(ids, delivery.ID)
	}
	return s.cancelDeliveries(ctx, tx, subscription.OrgID, ids)
}

// dropUndueDeliveries cancels scheduled rows that the current rule or window
// no longer produces.
func (s *Service) dropUndueDeliveries(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	rule, err := subscription.Rule()
	if err != nil {
		return err
	}
	window := subscription.Window()
	today := clock.StartOfDay(s.clock.Now(), s.location)

	scheduled, err := s.deliveryRepo.ListScheduledFrom(ctx, tx, subscription.OrgID, subscription.ID, today)
	if err != nil {
		return err
	}
	var undue []snowflake.ID
	for _, delivery := range scheduled {
		if !recurrence.Due(rule, window, delivery.DeliveryDate) {
			undue = append(undue, delivery.ID)
		}
	}
	return s.cancelDeliveries(ctx, tx, subscription.OrgID, undue)
}

func (s *Service) cancelDeliveries(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	cancelled, err := s.deliveryRepo.CancelScheduled(ctx, tx, orgID, ids, s.clock.Now())
	if err != nil {
		return err
	}
	if len(cancelled) == 0 {
		return nil
	}
	return s.routes.DetachStops(ctx, tx, cancelled, nil)
}

func (s *Service) checkReferences(ctx context.Context, conn *gorm.DB, orgID, userID, addressID snowflake.ID, productID *snowflake.ID) error {
	address, err := s.userRepo.FindAddressByID(ctx, conn, orgID, addressID)
	if err != nil {
		return err
	}
	if address == nil || address.UserID != userID {
		return db.ErrReferentialIntegrity
	}
	if productID == nil {
		return nil
	}
	product, err := s.productRepo.FindByID(ctx, conn, orgID, *productID)
	if err != nil {
		return err
	}
	if product == nil {
		return db.ErrReferentialIntegrity
	}
	if !product.Active {
		return productdomain.ErrInactive
	}
	return nil
}

func (s *Service) canAccess(ctx context.Context, subscription *subscriptiondomain.Subscription) bool {
	if orgcontext.IsPrivileged(ctx) {
		return true
	}
	actor, ok := orgcontext.UserIDFromContext(ctx)
	return ok && actor == subscription.UserID
}

func (s *Service) resolveOwner(ctx context.Context, raw string) (snowflake.ID, error) {
	if orgcontext.IsPrivileged(ctx) && strings.TrimSpace(raw) != "" {
		return s.parseID(raw, subscriptiondomain.ErrInvalidUser)
	}
	if actor, ok := orgcontext.UserIDFromContext(ctx); ok {
		return actor, nil
	}
	return s.parseID(raw, subscriptiondomain.ErrInvalidUser)
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func parseOptionalDate(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := subscriptiondomain.ParseDate(strings.TrimSpace(*value))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
