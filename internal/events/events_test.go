package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *Outbox, *Dispatcher) {
	t.Helper()
	db := dbtest.Open(t, &DomainEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return db, NewOutbox(node, clk), NewDispatcher(DispatcherParams{DB: db, Log: zap.NewNop(), Clock: clk})
}

func TestPublishTxDedupes(t *testing.T) {
	db, outbox, _ := setup(t)
	ctx := context.Background()

	for range 2 {
		require.NoError(t, outbox.PublishTx(ctx, db, Event{
			OrgID:     1,
			Type:      EventDeliveryScheduled,
			Payload:   map[string]any{"delivery_id": "10"},
			DedupeKey: "delivery.scheduled:10",
		}))
	}
	require.NoError(t, outbox.PublishTx(ctx, db, Event{OrgID: 1, Type: EventRoutePlanned}))
	require.NoError(t, outbox.PublishTx(ctx, db, Event{OrgID: 1, Type: EventRoutePlanned}))

	var count int64
	require.NoError(t, db.Model(&DomainEvent{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestProcessPendingPublishesAndRecordsFailures(t *testing.T) {
	db, outbox, dispatcher := setup(t)
	ctx := context.Background()

	require.NoError(t, outbox.PublishTx(ctx, db, Event{OrgID: 5, Type: EventDeliveryDelivered, Payload: map[string]any{"delivery_id": "1"}}))
	require.NoError(t, outbox.PublishTx(ctx, db, Event{OrgID: 5, Type: EventOrderDelivered, Payload: map[string]any{"order_id": "2"}}))

	var seenOrg snowflake.ID
	var seenDelivery string
	dispatcher.Register(EventDeliveryDelivered, func(ctx context.Context, event DomainEvent) error {
		seenOrg, _ = orgcontext.OrgIDFromContext(ctx)
		seenDelivery = event.String("delivery_id")
		return nil
	})
	dispatcher.Register(EventOrderDelivered, func(context.Context, DomainEvent) error {
		return errors.New("ledger unavailable")
	})

	published, err := dispatcher.ProcessPending(ctx, 10)
	require.Error(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, snowflake.ID(5), seenOrg)
	assert.Equal(t, "1", seenDelivery)

	var failed DomainEvent
	require.NoError(t, db.Where("event_type = ?", EventOrderDelivered).First(&failed).Error)
	assert.False(t, failed.Published)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "ledger unavailable")

	published, err = dispatcher.ProcessPending(ctx, 10)
	require.Error(t, err)
	assert.Equal(t, 0, published)
}

func TestProcessPendingWithoutHandlersStillPublishes(t *testing.T) {
	db, outbox, dispatcher := setup(t)
	ctx := context.Background()
	require.NoError(t, outbox.PublishTx(ctx, db, Event{OrgID: 1, Type: EventInvoiceIssued}))

	published, err := dispatcher.ProcessPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	published, err = dispatcher.ProcessPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, published)
}
