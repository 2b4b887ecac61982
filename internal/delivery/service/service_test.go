package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/delivery/repository"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	productrepo "github.com/smallbiznis/dairyroute/internal/product/repository"
	"github.com/smallbiznis/dairyroute/internal/recurrence"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	routerepo "github.com/smallbiznis/dairyroute/internal/route/repository"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/dairyroute/internal/subscription/repository"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	svc           *Service
	ctx           context.Context
	db            *gorm.DB
	node          *snowflake.Node
	now           time.Time
	subscriptions subscriptiondomain.Repository
	routes        routedomain.Repository
	productID     snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t,
		&subscriptiondomain.Subscription{},
		&domain.SubscriptionDelivery{},
		&productdomain.Product{},
		&routedomain.Route{},
		&routedomain.RouteStop{},
		&events.DomainEvent{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	ctx := orgcontext.WithOrgID(context.Background(), 42)

	products := productrepo.Provide()
	product := &productdomain.Product{
		ID: node.Generate(), OrgID: 42, Slug: "milk", Name: "Milk", Unit: "litre",
		Price: decimal.RequireFromString("32.00"), Active: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, products.Create(ctx, db, product))

	f := &fixture{
		ctx:           ctx,
		db:            db,
		node:          node,
		now:           now,
		subscriptions: subscriptionrepo.Provide(),
		routes:        routerepo.Provide(),
		productID:     product.ID,
	}
	f.svc = NewService(Params{
		DB:               db,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clk,
		Repo:             repository.Provide(),
		SubscriptionRepo: f.subscriptions,
		ProductRepo:      products,
		RouteRepo:        f.routes,
		Outbox:           events.NewOutbox(node, clk),
	}).(*Service)
	return f
}

func (f *fixture) subscribe(t *testing.T, cycle recurrence.Cycle, days ...int) *subscriptiondomain.Subscription {
	t.Helper()
	sub := &subscriptiondomain.Subscription{
		ID:           f.node.Generate(),
		OrgID:        42,
		UserID:       f.node.Generate(),
		AddressID:    f.node.Generate(),
		ProductID:    f.productID,
		Quantity:     2,
		BillingCycle: cycle,
		DeliveryDays: datatypes.JSONSlice[int](days),
		StartDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PaymentMode:  subscriptiondomain.PaymentModePrepaid,
		Status:       subscriptiondomain.SubscriptionStatusActive,
		CreatedAt:    f.now,
		UpdatedAt:    f.now,
	}
	require.NoError(t, f.subscriptions.Insert(f.ctx, f.db, sub))
	return sub
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestMaterializeRangeWeeklyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, recurrence.CycleWeekly, 1, 3, 5)

	summary, err := f.svc.MaterializeRange(f.ctx, day(1), day(14))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Subscriptions)
	assert.Equal(t, 6, summary.Created)

	var dates []time.Time
	for d := 1; d <= 14; d++ {
		rows, err := f.svc.ListForDate(f.ctx, day(d))
		require.NoError(t, err)
		for _, row := range rows {
			dates = append(dates, row.DeliveryDate.UTC())
			assert.Equal(t, "64.00", row.Amount().StringFixed(2))
			assert.Equal(t, domain.StatusScheduled, row.Status)
		}
	}
	assert.Equal(t, []time.Time{day(1), day(3), day(5), day(8), day(10), day(12)}, dates)

	again, err := f.svc.MaterializeRange(f.ctx, day(1), day(14))
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 6, again.Duplicates)
}

func TestMaterializeRefreshesScheduledRowsOnly(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, recurrence.CycleDaily)

	first, err := f.svc.Materialize(f.ctx, *sub, day(2))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, first.Outcome)

	sub.Quantity = 5
	second, err := f.svc.Materialize(f.ctx, *sub, day(2))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRefreshed, second.Outcome)
	assert.Equal(t, 5, second.Delivery.Quantity)
	assert.Equal(t, first.Delivery.ID, second.Delivery.ID)
	assert.Equal(t, "32.00", second.Delivery.UnitPrice.StringFixed(2))

	sub.Status = subscriptiondomain.SubscriptionStatusPaused
	paused, err := f.svc.Materialize(f.ctx, *sub, day(3))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInactive, paused.Outcome)
}

type relocation struct {
	deliveryID snowflake.ID
	addressID  snowflake.ID
}

type fakeRoutes struct {
	routedomain.Service
	relocated []relocation
}

func (f *fakeRoutes) RelocateDeliveryStop(_ context.Context, _ *gorm.DB, deliveryID, addressID snowflake.ID) error {
	f.relocated = append(f.relocated, relocation{deliveryID: deliveryID, addressID: addressID})
	return nil
}

func TestMaterializeRefreshRelocatesRouteStop(t *testing.T) {
	f := newFixture(t)
	routes := &fakeRoutes{}
	f.svc.routes = routes
	sub := f.subscribe(t, recurrence.CycleDaily)

	first, err := f.svc.Materialize(f.ctx, *sub, day(2))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCreated, first.Outcome)

	again, err := f.svc.Materialize(f.ctx, *sub, day(2))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, again.Outcome)
	assert.Empty(t, routes.relocated)

	sub.AddressID = f.node.Generate()
	moved, err := f.svc.Materialize(f.ctx, *sub, day(2))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRefreshed, moved.Outcome)
	assert.Equal(t, sub.AddressID, moved.Delivery.AddressID)
	assert.Equal(t, []relocation{{deliveryID: first.Delivery.ID, addressID: sub.AddressID}}, routes.relocated)
}

func TestMaterializeRejectsWideRanges(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MaterializeRange(f.ctx, day(14), day(1))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = f.svc.MaterializeRange(f.ctx, day(1), day(1).AddDate(0, 3, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestUpdateStatusEnforcesSkipPolicy(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, recurrence.CycleDaily)
	result, err := f.svc.Materialize(f.ctx, *sub, day(2))
	require.NoError(t, err)
	id := result.Delivery.ID.String()

	_, err = f.svc.UpdateStatus(f.ctx, domain.UpdateStatusRequest{ID: id, Status: domain.StatusDelivered})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidStatusTransition)

	_, err = f.svc.UpdateStatus(f.ctx, domain.UpdateStatusRequest{ID: id, Status: domain.StatusFailed})
	assert.ErrorIs(t, err, domain.ErrFailureReason)

	for _, status := range []domain.Status{domain.StatusPickedUp, domain.StatusInTransit} {
		_, err := f.svc.UpdateStatus(f.ctx, domain.UpdateStatusRequest{ID: id, Status: status})
		require.NoError(t, err)
	}
	note := "left with security"
	delivered, err := f.svc.UpdateStatus(f.ctx, domain.UpdateStatusRequest{ID: id, Status: domain.StatusDelivered, ProofNote: &note})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.ProofNote)
	assert.Equal(t, note, *delivered.ProofNote)
	assert.NotNil(t, delivered.DeliveredAt)

	var published []events.DomainEvent
	require.NoError(t, f.db.Where("event_type = ?", events.EventDeliveryDelivered).Find(&published).Error)
	require.Len(t, published, 1)
	assert.Equal(t, "64.00", published[0].String("amount"))
}

func TestUpdateStatusPinsAgentsToTheirRoute(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, recurrence.CycleDaily)
	result, err := f.svc.Materialize(f.ctx, *sub, day(2))
	require.NoError(t, err)
	delivery := result.Delivery

	agentID := f.node.Generate()
	route, err := f.routes.FindOrCreateRoute(f.ctx, f.db, &routedomain.Route{
		ID: f.node.Generate(), OrgID: 42, AgentID: agentID, RouteDate: day(2),
		Status: routedomain.RouteStatusPlanned, CreatedAt: f.now, UpdatedAt: f.now,
	})
	require.NoError(t, err)
	deliveryID := delivery.ID
	require.NoError(t, f.routes.InsertStops(f.ctx, f.db, []routedomain.RouteStop{{
		ID: f.node.Generate(), OrgID: 42, RouteID: route.ID,
		StopType:               routedomain.StopTypeSubscriptionDelivery,
		SubscriptionDeliveryID: &deliveryID,
		AddressID:              delivery.AddressID,
		Sequence:               1,
		Status:                 routedomain.StopStatusPending,
		CreatedAt:              f.now,
		UpdatedAt:              f.now,
	}}))

	stranger := orgcontext.WithActor(f.ctx, f.node.Generate(), orgcontext.RoleAgent)
	_, err = f.svc.UpdateStatus(stranger, domain.UpdateStatusRequest{ID: delivery.ID.String(), Status: domain.StatusPickedUp})
	assert.ErrorIs(t, err, domain.ErrNotAssignedAgent)

	agent := orgcontext.WithActor(f.ctx, agentID, orgcontext.RoleAgent)
	_, err = f.svc.UpdateStatus(agent, domain.UpdateStatusRequest{ID: delivery.ID.String(), Status: domain.StatusPickedUp})
	require.NoError(t, err)

	started, err := f.routes.FindRouteByID(f.ctx, f.db, 42, route.ID)
	require.NoError(t, err)
	assert.Equal(t, routedomain.RouteStatusInProgress, started.Status)

	stop, err := f.routes.FindStopByDelivery(f.ctx, f.db, 42, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, routedomain.StopStatusPending, stop.Status)

	_, err = f.svc.UpdateStatus(agent, domain.UpdateStatusRequest{ID: delivery.ID.String(), Status: domain.StatusInTransit})
	require.NoError(t, err)
	stop, err = f.routes.FindStopByDelivery(f.ctx, f.db, 42, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, routedomain.StopStatusInTransit, stop.Status)
}
