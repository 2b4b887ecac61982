package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	"github.com/smallbiznis/dairyroute/internal/order/domain"
	"github.com/smallbiznis/dairyroute/internal/order/repository"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	productrepo "github.com/smallbiznis/dairyroute/internal/product/repository"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	routerepo "github.com/smallbiznis/dairyroute/internal/route/repository"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	userrepo "github.com/smallbiznis/dairyroute/internal/user/repository"
	"github.com/smallbiznis/dairyroute/pkg/db"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingRoutes struct {
	routedomain.Service
	detachedOrders []snowflake.ID
}

func (r *recordingRoutes) DetachStops(_ context.Context, _ *gorm.DB, _, orderIDs []snowflake.ID) error {
	r.detachedOrders = append(r.detachedOrders, orderIDs...)
	return nil
}

type fixture struct {
	svc       *Service
	routes    *recordingRoutes
	admin     context.Context
	customer  context.Context
	userID    snowflake.ID
	addressID snowflake.ID
	milk      snowflake.ID
	curd      snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&domain.Order{},
		&domain.OrderItem{},
		&productdomain.Product{},
		&userdomain.Address{},
		&routedomain.Route{},
		&routedomain.RouteStop{},
		&events.DomainEvent{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	base := orgcontext.WithOrgID(context.Background(), 42)

	f := &fixture{routes: &recordingRoutes{}, userID: node.Generate()}
	f.admin = orgcontext.WithActor(base, node.Generate(), orgcontext.RoleAdmin)
	f.customer = orgcontext.WithActor(base, f.userID, orgcontext.RoleCustomer)

	users := userrepo.Provide()
	address := &userdomain.Address{
		ID: node.Generate(), OrgID: 42, UserID: f.userID,
		Line1: "4 Lake View", City: "Pune", Pincode: "411001",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, users.InsertAddress(base, conn, address))
	f.addressID = address.ID

	products := productrepo.Provide()
	for _, p := range []*productdomain.Product{
		{ID: node.Generate(), OrgID: 42, Slug: "milk", Name: "Milk", Unit: "litre", Price: decimal.RequireFromString("27.50"), Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: node.Generate(), OrgID: 42, Slug: "curd", Name: "Curd", Unit: "cup", Price: decimal.NewFromInt(60), Active: true, CreatedAt: now, UpdatedAt: now},
	} {
		require.NoError(t, products.Create(base, conn, p))
		if p.Slug == "milk" {
			f.milk = p.ID
		} else {
			f.curd = p.ID
		}
	}

	f.svc = NewService(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Config: config.Config{Timezone: "UTC"},
		Planning: config.NewStaticPlanningConfigHolder(config.PlanningConfig{
			TaxRate:           0.05,
			DeliveryFee:       20,
			FreeDeliveryAbove: 500,
		}),
		Repo:        repository.Provide(),
		UserRepo:    users,
		ProductRepo: products,
		RouteRepo:   routerepo.Provide(),
		Routes:      f.routes,
		Outbox:      events.NewOutbox(node, clk),
	}).(*Service)
	return f
}

func (f *fixture) order(t *testing.T) *domain.Order {
	t.Helper()
	order, err := f.svc.Create(f.customer, domain.CreateOrderRequest{
		AddressID: f.addressID.String(),
		Items: []domain.CreateOrderItemRequest{
			{ProductID: f.milk.String(), Quantity: 2},
			{ProductID: f.curd.String(), Quantity: 1},
		},
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrderPricesItems(t *testing.T) {
	f := newFixture(t)
	order := f.order(t)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, f.userID, order.UserID)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), order.DeliveryDate)
	assert.Equal(t, "115.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "5.75", order.Tax.StringFixed(2))
	assert.Equal(t, "20.00", order.DeliveryFee.StringFixed(2))
	assert.Equal(t, "140.75", order.Total.StringFixed(2))

	got, err := f.svc.Get(f.customer, order.ID.String())
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "55.00", got.Items[0].LineTotal.StringFixed(2))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	past := "2023-12-31"
	_, err := f.svc.Create(f.customer, domain.CreateOrderRequest{
		AddressID:    f.addressID.String(),
		DeliveryDate: &past,
		Items:        []domain.CreateOrderItemRequest{{ProductID: f.milk.String(), Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDeliveryDate)

	_, err = f.svc.Create(f.customer, domain.CreateOrderRequest{AddressID: f.addressID.String()})
	assert.ErrorIs(t, err, domain.ErrInvalidItems)

	_, err = f.svc.Create(f.customer, domain.CreateOrderRequest{
		AddressID: f.addressID.String(),
		Items:     []domain.CreateOrderItemRequest{{ProductID: f.milk.String(), Quantity: 0}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.svc.Create(f.customer, domain.CreateOrderRequest{
		AddressID: f.addressID.String(),
		Items:     []domain.CreateOrderItemRequest{{ProductID: "12345", Quantity: 1}},
	})
	assert.ErrorIs(t, err, db.ErrReferentialIntegrity)
}

func TestCustomerCancelIsLimitedToEarlyStatuses(t *testing.T) {
	f := newFixture(t)

	early := f.order(t)
	cancelled, err := f.svc.Cancel(f.customer, early.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, []snowflake.ID{early.ID}, f.routes.detachedOrders)

	late := f.order(t)
	for _, status := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusProcessing} {
		_, err := f.svc.UpdateStatus(f.admin, domain.UpdateStatusRequest{ID: late.ID.String(), Status: status})
		require.NoError(t, err)
	}
	_, err = f.svc.Cancel(f.customer, late.ID.String())
	assert.ErrorIs(t, err, domain.ErrOrderLocked)

	refunded, err := f.svc.UpdateStatus(f.admin, domain.UpdateStatusRequest{ID: late.ID.String(), Status: domain.OrderStatusRefunded})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, refunded.Status)
}

func TestUpdateStatusRejectsSkippedSteps(t *testing.T) {
	f := newFixture(t)
	order := f.order(t)

	_, err := f.svc.UpdateStatus(f.admin, domain.UpdateStatusRequest{ID: order.ID.String(), Status: domain.OrderStatusDelivered})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidStatusTransition)

	_, err = f.svc.UpdateStatus(f.admin, domain.UpdateStatusRequest{ID: order.ID.String(), Status: "shipped"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestListScopesCustomersToTheirOrders(t *testing.T) {
	f := newFixture(t)
	f.order(t)
	f.order(t)

	resp, err := f.svc.List(f.customer, domain.ListOrderRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Orders, 2)

	other := orgcontext.WithActor(orgcontext.WithOrgID(context.Background(), 42), 99, orgcontext.RoleCustomer)
	resp, err = f.svc.List(other, domain.ListOrderRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Orders)
}
