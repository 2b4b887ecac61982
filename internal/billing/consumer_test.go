package billing

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/delivery/domain"
	deliveryrepo "github.com/smallbiznis/dairyroute/internal/delivery/repository"
	"github.com/smallbiznis/dairyroute/internal/events"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/dairyroute/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/dairyroute/internal/ledger/service"
	orderdomain "github.com/smallbiznis/dairyroute/internal/order/domain"
	orderrepo "github.com/smallbiznis/dairyroute/internal/order/repository"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestPrepaidActivityDebitsWallet(t *testing.T) {
	db := dbtest.Open(t,
		&domain.SubscriptionDelivery{},
		&orderdomain.Order{},
		&ledgerdomain.LedgerEntry{},
		&events.DomainEvent{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Date(2024, 1, 2, 7, 30, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	ctx := orgcontext.WithOrgID(context.Background(), 42)
	outbox := events.NewOutbox(node, clk)
	userID := node.Generate()

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: ledgerrepo.Provide(),
	})
	consumer := NewConsumer(Params{
		DB:           db,
		Log:          zap.NewNop(),
		DeliveryRepo: deliveryrepo.Provide(),
		OrderRepo:    orderrepo.Provide(),
		Ledger:       ledger,
	})
	dispatcher := events.NewDispatcher(events.DispatcherParams{DB: db, Log: zap.NewNop(), Clock: clk})
	consumer.Register(dispatcher)

	delivered := func(mode subscriptiondomain.PaymentMode) {
		d := &domain.SubscriptionDelivery{
			ID:             node.Generate(),
			OrgID:          42,
			SubscriptionID: node.Generate(),
			UserID:         userID,
			AddressID:      node.Generate(),
			ProductID:      node.Generate(),
			DeliveryDate:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Quantity:       2,
			UnitPrice:      decimal.RequireFromString("32.00"),
			PaymentMode:    mode,
			Status:         domain.StatusDelivered,
			DeliveredAt:    &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		_, err := deliveryrepo.Provide().InsertIfAbsent(ctx, db, d)
		require.NoError(t, err)
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			for _, event := range domain.StatusEvents(d, domain.StatusPickedUp) {
				if err := outbox.PublishTx(ctx, tx, event); err != nil {
					return err
				}
			}
			return nil
		}))
	}
	delivered(subscriptiondomain.PaymentModePrepaid)
	delivered(subscriptiondomain.PaymentModePostpaid)

	order := &orderdomain.Order{
		ID:           node.Generate(),
		OrgID:        42,
		UserID:       userID,
		AddressID:    node.Generate(),
		PaymentMode:  subscriptiondomain.PaymentModePrepaid,
		Status:       orderdomain.OrderStatusDelivered,
		DeliveryDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Subtotal:     decimal.RequireFromString("115.00"),
		DeliveryFee:  decimal.RequireFromString("20.00"),
		Tax:          decimal.RequireFromString("5.75"),
		Total:        decimal.RequireFromString("140.75"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, orderrepo.Provide().Insert(ctx, db, order))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		for _, event := range orderdomain.StatusEvents(order, orderdomain.OrderStatusOutForDelivery) {
			if err := outbox.PublishTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	}))

	published, err := dispatcher.ProcessPending(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 6, published)

	admin := orgcontext.WithActor(ctx, node.Generate(), orgcontext.RoleAdmin)
	wallet, err := ledger.Wallet(admin, userID.String())
	require.NoError(t, err)
	assert.Equal(t, "-204.75", wallet.Balance.StringFixed(2))
	assert.Equal(t, int64(2), wallet.Entries)

	// Redelivery posts nothing new.
	var redeliver events.DomainEvent
	require.NoError(t, db.Where("event_type = ?", events.EventOrderDelivered).First(&redeliver).Error)
	require.NoError(t, consumer.HandleOrderDelivered(ctx, redeliver))
	wallet, err = ledger.Wallet(admin, userID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(2), wallet.Entries)

	balance, err := ledger.Verify(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "-204.75", balance.StringFixed(2))
}

func TestMissingSourceIsSkipped(t *testing.T) {
	db := dbtest.Open(t, &domain.SubscriptionDelivery{}, &orderdomain.Order{}, &ledgerdomain.LedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	consumer := NewConsumer(Params{
		DB:           db,
		Log:          zap.NewNop(),
		DeliveryRepo: deliveryrepo.Provide(),
		OrderRepo:    orderrepo.Provide(),
		Ledger:       ledgerservice.NewService(ledgerservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: ledgerrepo.Provide()}),
	})
	ctx := orgcontext.WithOrgID(context.Background(), 42)

	assert.NoError(t, consumer.HandleDeliveryDelivered(ctx, events.DomainEvent{Payload: map[string]any{"delivery_id": node.Generate().String()}}))
	assert.NoError(t, consumer.HandleOrderDelivered(ctx, events.DomainEvent{Payload: map[string]any{}}))
	assert.ErrorIs(t, consumer.HandleOrderDelivered(context.Background(), events.DomainEvent{}), ledgerdomain.ErrInvalidOrganization)
}
