package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	deliveryrepo "github.com/smallbiznis/dairyroute/internal/delivery/repository"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	orderdomain "github.com/smallbiznis/dairyroute/internal/order/domain"
	orderrepo "github.com/smallbiznis/dairyroute/internal/order/repository"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/route/domain"
	"github.com/smallbiznis/dairyroute/internal/route/repository"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	userrepo "github.com/smallbiznis/dairyroute/internal/user/repository"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc        *Service
	ctx        context.Context
	db         *gorm.DB
	node       *snowflake.Node
	now        time.Time
	date       time.Time
	users      userdomain.Repository
	deliveries deliverydomain.Repository
	phone      int
}

func newFixture(t *testing.T, maxStops int) *fixture {
	t.Helper()
	db := dbtest.Open(t,
		&userdomain.User{},
		&userdomain.Address{},
		&deliverydomain.SubscriptionDelivery{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&domain.Route{},
		&domain.RouteStop{},
		&events.DomainEvent{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	f := &fixture{
		db:         db,
		node:       node,
		now:        now,
		date:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		users:      userrepo.Provide(),
		deliveries: deliveryrepo.Provide(),
		ctx:        orgcontext.WithOrgID(context.Background(), 42),
	}
	f.svc = NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Planning: config.NewStaticPlanningConfigHolder(config.PlanningConfig{
			Depot:            config.Depot{Lat: 12.9716, Lng: 77.5946},
			AverageSpeedKmh:  20,
			ServiceMinutes:   2,
			MaxStopsPerRoute: maxStops,
		}),
		Repo:         repository.Provide(),
		UserRepo:     f.users,
		DeliveryRepo: f.deliveries,
		OrderRepo:    orderrepo.Provide(),
		Outbox:       events.NewOutbox(node, clk),
	}).(*Service)
	return f
}

func (f *fixture) addAgent(t *testing.T) snowflake.ID {
	t.Helper()
	f.phone++
	agent := &userdomain.User{
		ID:          f.node.Generate(),
		OrgID:       42,
		Name:        "Agent",
		Phone:       fmt.Sprintf("90000%05d", f.phone),
		Role:        userdomain.RoleAgent,
		IsActive:    true,
		IsAvailable: true,
		CreatedAt:   f.now,
		UpdatedAt:   f.now,
	}
	require.NoError(t, f.users.InsertUser(f.ctx, f.db, agent))
	return agent.ID
}

func (f *fixture) addDelivery(t *testing.T, lat, lng float64) snowflake.ID {
	t.Helper()
	customerID := f.node.Generate()
	address := &userdomain.Address{
		ID:        f.node.Generate(),
		OrgID:     42,
		UserID:    customerID,
		Line1:     "1 Main Road",
		City:      "Bengaluru",
		Pincode:   "560001",
		Lat:       &lat,
		Lng:       &lng,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	require.NoError(t, f.users.InsertAddress(f.ctx, f.db, address))

	delivery := &deliverydomain.SubscriptionDelivery{
		ID:             f.node.Generate(),
		OrgID:          42,
		SubscriptionID: f.node.Generate(),
		UserID:         customerID,
		AddressID:      address.ID,
		ProductID:      f.node.Generate(),
		DeliveryDate:   f.date,
		Quantity:       1,
		UnitPrice:      decimal.NewFromInt(30),
		PaymentMode:    subscriptiondomain.PaymentModePrepaid,
		Status:         deliverydomain.StatusScheduled,
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
	}
	inserted, err := f.deliveries.InsertIfAbsent(f.ctx, f.db, delivery)
	require.NoError(t, err)
	require.True(t, inserted)
	return delivery.ID
}

func assertSequenced(t *testing.T, route domain.Route) {
	t.Helper()
	for i, stop := range route.Stops {
		assert.Equal(t, i+1, stop.Sequence, "route %s stop %d", route.ID, i)
	}
}

func TestPlanDateWithoutAgentsLeavesStopsUnassigned(t *testing.T) {
	f := newFixture(t, 10)
	f.addDelivery(t, 12.98, 77.60)
	f.addDelivery(t, 12.96, 77.58)

	summary, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Assigned)
	assert.Equal(t, 2, summary.Unassigned)

	routes, err := f.svc.ListByDate(f.ctx, f.date)
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestPlanDateAssignsEveryStopExactlyOnce(t *testing.T) {
	f := newFixture(t, 10)
	f.addAgent(t)
	f.addAgent(t)

	want := map[snowflake.ID]bool{}
	coords := [][2]float64{{12.99, 77.60}, {12.98, 77.62}, {12.95, 77.58}, {12.94, 77.56}, {12.97, 77.70}}
	for _, c := range coords {
		want[f.addDelivery(t, c[0], c[1])] = true
	}

	summary, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Assigned)
	assert.Equal(t, 0, summary.Unassigned)
	require.Len(t, summary.Routes, 2)

	seen := map[snowflake.ID]int{}
	for _, route := range summary.Routes {
		assert.Equal(t, domain.RouteStatusPlanned, route.Status)
		assert.NotEmpty(t, route.Stops)
		assert.Greater(t, route.TotalDistance, 0.0)
		assert.Greater(t, route.EstimatedDuration, 0)
		assertSequenced(t, route)
		for _, stop := range route.Stops {
			require.NotNil(t, stop.SubscriptionDeliveryID)
			seen[*stop.SubscriptionDeliveryID]++
		}
	}
	assert.Len(t, seen, len(want))
	for id, count := range seen {
		assert.True(t, want[id])
		assert.Equal(t, 1, count)
	}

	again, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Assigned)
}

func TestPlanDateRespectsRouteCapacity(t *testing.T) {
	f := newFixture(t, 3)
	f.addAgent(t)
	for i := 0; i < 5; i++ {
		f.addDelivery(t, 12.95+float64(i)*0.01, 77.60)
	}

	summary, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Assigned)
	assert.Equal(t, 2, summary.Unassigned)
	require.Len(t, summary.Routes, 1)
	assert.Len(t, summary.Routes[0].Stops, 3)
}

func TestReassignStopRenumbersAndLocksStartedRoutes(t *testing.T) {
	f := newFixture(t, 10)
	f.addAgent(t)
	f.addAgent(t)
	for _, c := range [][2]float64{{12.99, 77.60}, {12.98, 77.61}, {12.95, 77.57}, {12.94, 77.56}} {
		f.addDelivery(t, c[0], c[1])
	}

	summary, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	require.Len(t, summary.Routes, 2)
	source, target := summary.Routes[0], summary.Routes[1]
	require.NotEmpty(t, source.Stops)
	moved := source.Stops[0]

	_, err = f.svc.ReassignStop(f.ctx, domain.ReassignRequest{StopID: moved.ID.String(), RouteID: target.ID.String(), Position: 99})
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)

	updated, err := f.svc.ReassignStop(f.ctx, domain.ReassignRequest{StopID: moved.ID.String(), RouteID: target.ID.String(), Position: 1})
	require.NoError(t, err)
	require.Len(t, updated.Stops, len(target.Stops)+1)
	assert.Equal(t, moved.ID, updated.Stops[0].ID)

	reloadedTarget, err := f.svc.Get(f.ctx, target.ID.String())
	require.NoError(t, err)
	assertSequenced(t, *reloadedTarget)
	assert.Equal(t, moved.ID, reloadedTarget.Stops[0].ID)

	reloadedSource, err := f.svc.Get(f.ctx, source.ID.String())
	require.NoError(t, err)
	assert.Len(t, reloadedSource.Stops, len(source.Stops)-1)
	assertSequenced(t, *reloadedSource)

	_, err = f.svc.Start(f.ctx, target.ID.String())
	require.NoError(t, err)

	_, err = f.svc.ReassignStop(f.ctx, domain.ReassignRequest{StopID: moved.ID.String(), RouteID: source.ID.String(), Position: 1})
	assert.ErrorIs(t, err, domain.ErrRouteLocked)

	f.addDelivery(t, 12.97, 77.59)
	replanned, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	assert.Equal(t, 1, replanned.Locked)
	assert.Equal(t, 1, replanned.Assigned)

	locked, err := f.svc.Get(f.ctx, target.ID.String())
	require.NoError(t, err)
	assert.Len(t, locked.Stops, len(reloadedTarget.Stops))
}

func TestUpdateStopMirrorsDeliveryAndGatesCompletion(t *testing.T) {
	f := newFixture(t, 10)
	agentID := f.addAgent(t)
	otherAgent := f.addAgent(t)
	deliveryID := f.addDelivery(t, 12.98, 77.60)

	summary, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date, AgentIDs: []snowflake.ID{agentID}})
	require.NoError(t, err)
	require.Len(t, summary.Routes, 1)
	route := summary.Routes[0]
	require.Len(t, route.Stops, 1)
	stopID := route.Stops[0].ID.String()

	intruder := orgcontext.WithActor(f.ctx, otherAgent, orgcontext.RoleAgent)
	_, err = f.svc.UpdateStop(intruder, domain.UpdateStopRequest{ID: stopID, Status: domain.StopStatusInTransit})
	assert.ErrorIs(t, err, domain.ErrNotRouteAgent)

	agentCtx := orgcontext.WithActor(f.ctx, agentID, orgcontext.RoleAgent)
	_, err = f.svc.UpdateStop(agentCtx, domain.UpdateStopRequest{ID: stopID, Status: domain.StopStatusInTransit})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidStatusTransition, "delivery has not been picked up")

	pending, err := f.deliveries.FindByID(f.ctx, f.db, 42, deliveryID)
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusScheduled, pending.Status)
	unchanged, err := f.svc.Get(agentCtx, route.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.RouteStatusPlanned, unchanged.Status)
	assert.Equal(t, domain.StopStatusPending, unchanged.Stops[0].Status)

	pending.Status = deliverydomain.StatusPickedUp
	require.NoError(t, f.deliveries.UpdateStatus(f.ctx, f.db, pending))

	stop, err := f.svc.UpdateStop(agentCtx, domain.UpdateStopRequest{ID: stopID, Status: domain.StopStatusInTransit})
	require.NoError(t, err)
	assert.Equal(t, domain.StopStatusInTransit, stop.Status)

	started, err := f.svc.Get(agentCtx, route.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.RouteStatusInProgress, started.Status)

	delivery, err := f.deliveries.FindByID(f.ctx, f.db, 42, deliveryID)
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusInTransit, delivery.Status)

	_, err = f.svc.Complete(agentCtx, route.ID.String())
	assert.ErrorIs(t, err, domain.ErrStopsOutstanding)

	_, err = f.svc.UpdateStop(agentCtx, domain.UpdateStopRequest{ID: stopID, Status: domain.StopStatusDelivered})
	require.NoError(t, err)

	delivery, err = f.deliveries.FindByID(f.ctx, f.db, 42, deliveryID)
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusDelivered, delivery.Status)
	assert.NotNil(t, delivery.DeliveredAt)

	completed, err := f.svc.Complete(agentCtx, route.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.RouteStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestDetachStopsResequencesPlannedRoute(t *testing.T) {
	f := newFixture(t, 10)
	f.addAgent(t)
	first := f.addDelivery(t, 12.98, 77.60)
	f.addDelivery(t, 12.99, 77.61)
	f.addDelivery(t, 13.00, 77.62)

	summary, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	require.Len(t, summary.Routes, 1)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.DetachStops(f.ctx, tx, []snowflake.ID{first}, nil)
	})
	require.NoError(t, err)

	route, err := f.svc.Get(f.ctx, summary.Routes[0].ID.String())
	require.NoError(t, err)
	require.Len(t, route.Stops, 2)
	assertSequenced(t, *route)
	for _, stop := range route.Stops {
		assert.NotEqual(t, first, *stop.SubscriptionDeliveryID)
	}
}

func (f *fixture) addAddress(t *testing.T, lat, lng float64) snowflake.ID {
	t.Helper()
	address := &userdomain.Address{
		ID:        f.node.Generate(),
		OrgID:     42,
		UserID:    f.node.Generate(),
		Line1:     "9 Lake View",
		City:      "Bengaluru",
		Pincode:   "560002",
		Lat:       &lat,
		Lng:       &lng,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	require.NoError(t, f.users.InsertAddress(f.ctx, f.db, address))
	return address.ID
}

func TestRelocateDeliveryStopMovesPlannedStop(t *testing.T) {
	f := newFixture(t, 10)
	f.addAgent(t)
	moved := f.addDelivery(t, 12.98, 77.60)
	f.addDelivery(t, 12.99, 77.61)
	f.addDelivery(t, 13.00, 77.62)

	summary, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	require.Len(t, summary.Routes, 1)
	before := summary.Routes[0]
	require.Equal(t, moved, *before.Stops[0].SubscriptionDeliveryID)

	farther := f.addAddress(t, 13.01, 77.63)
	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.RelocateDeliveryStop(f.ctx, tx, moved, farther)
	})
	require.NoError(t, err)

	after, err := f.svc.Get(f.ctx, before.ID.String())
	require.NoError(t, err)
	require.Len(t, after.Stops, 3)
	assertSequenced(t, *after)
	last := after.Stops[2]
	assert.Equal(t, moved, *last.SubscriptionDeliveryID)
	assert.Equal(t, farther, last.AddressID)
	require.NotNil(t, last.Lat)
	assert.InDelta(t, 13.01, *last.Lat, 1e-9)
	assert.InDelta(t, 77.63, *last.Lng, 1e-9)
	assert.Greater(t, after.TotalDistance, before.TotalDistance)
}

func TestRelocateDeliveryStopLeavesStartedRouteAlone(t *testing.T) {
	f := newFixture(t, 10)
	f.addAgent(t)
	moved := f.addDelivery(t, 12.98, 77.60)
	f.addDelivery(t, 12.99, 77.61)

	summary, err := f.svc.PlanDate(f.ctx, domain.PlanRequest{Date: f.date})
	require.NoError(t, err)
	require.Len(t, summary.Routes, 1)
	routeID := summary.Routes[0].ID.String()
	_, err = f.svc.Start(f.ctx, routeID)
	require.NoError(t, err)

	original, err := f.svc.Get(f.ctx, routeID)
	require.NoError(t, err)

	elsewhere := f.addAddress(t, 13.01, 77.63)
	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.RelocateDeliveryStop(f.ctx, tx, moved, elsewhere)
	})
	require.NoError(t, err)

	unchanged, err := f.svc.Get(f.ctx, routeID)
	require.NoError(t, err)
	assert.Equal(t, original.Stops, unchanged.Stops)
	assert.Equal(t, original.TotalDistance, unchanged.TotalDistance)
}
