package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakePublisher struct {
	channel  string
	messages [][]byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.channel = channel
	f.messages = append(f.messages, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func deliveryEvent(to string) events.DomainEvent {
	return events.DomainEvent{
		ID:        snowflake.ID(7),
		OrgID:     snowflake.ID(42),
		EventType: events.EventDeliveryStatusChanged,
		Payload: map[string]any{
			"delivery_id":   "1001",
			"user_id":       "501",
			"delivery_date": "2024-01-02",
			"from":          "in_transit",
			"to":            to,
		},
	}
}

func TestRedisNotifierPublishesProtoJSON(t *testing.T) {
	pub := &fakePublisher{}
	notifier := NewRedisNotifier(pub, "dairyroute:notifications", zap.NewNop())
	consumer := NewConsumer(notifier, zap.NewNop())

	ctx := correlation.ContextWithCorrelationID(context.Background(), "01HQ3Z")
	require.NoError(t, consumer.Handle(ctx, deliveryEvent("delivered")))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "dairyroute:notifications", pub.channel)

	var msg structpb.Struct
	require.NoError(t, protojson.Unmarshal(pub.messages[0], &msg))
	fields := msg.AsMap()
	assert.Equal(t, "501", fields["user_id"])
	assert.Equal(t, "42", fields["org_id"])
	assert.Equal(t, "delivery", fields["kind"])
	assert.Equal(t, "Your delivery for 2024-01-02 was delivered.", fields["body"])
	data := fields["data"].(map[string]any)
	assert.Equal(t, "1001", data["delivery_id"])
	assert.NotContains(t, data, "user_id")
	metadata := fields["metadata"].(map[string]any)
	assert.Equal(t, "01HQ3Z", metadata["correlation_id"])
}

func TestFailedPushDoesNotFailEvent(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	consumer := NewConsumer(NewRedisNotifier(pub, "ch", zap.NewNop()), zap.NewNop())
	assert.NoError(t, consumer.Handle(context.Background(), deliveryEvent("failed")))
}

func TestBuild(t *testing.T) {
	_, ok := Build(deliveryEvent("scheduled"))
	assert.False(t, ok, "scheduled is not announced")

	n, ok := Build(events.DomainEvent{
		OrgID:     42,
		EventType: events.EventPaymentCompleted,
		Payload:   map[string]any{"user_id": "501", "type": "refund", "amount": "120.50"},
	})
	require.True(t, ok)
	assert.Equal(t, KindPayment, n.Kind)
	assert.Equal(t, "Rs. 120.50 has been refunded.", n.Body)

	n, ok = Build(events.DomainEvent{
		OrgID:     42,
		EventType: events.EventOrderStatusChanged,
		Payload:   map[string]any{"user_id": "501", "order_id": "9", "to": "out_for_delivery"},
	})
	require.True(t, ok)
	assert.Equal(t, "Your order is out for delivery.", n.Body)

	_, ok = Build(events.DomainEvent{EventType: events.EventInvoiceIssued, Payload: map[string]any{}})
	assert.False(t, ok)

	_, err := Encode(context.Background(), Notification{Kind: KindOrder})
	assert.ErrorIs(t, err, ErrInvalidNotification)
	assert.ErrorIs(t, NewLogNotifier(zap.NewNop()).Notify(context.Background(), Notification{}), ErrInvalidNotification)
}
