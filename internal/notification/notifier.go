// Package notification pushes customer-facing status updates. Messages go
// to a Redis channel consumed by the push gateway, or to the log when Redis
// is not configured.
package notification

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/smallbiznis/dairyroute/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type Kind string

const (
	KindDelivery Kind = "delivery"
	KindOrder    Kind = "order"
	KindInvoice  Kind = "invoice"
	KindPayment  Kind = "payment"
)

type Notification struct {
	OrgID  string
	UserID string
	Kind   Kind
	Title  string
	Body   string
	Data   map[string]any
}

var ErrInvalidNotification = errors.New("invalid_notification")

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// publisher is the part of *redis.Client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisNotifier struct {
	client  publisher
	channel string
	log     *zap.Logger
}

func NewRedisNotifier(client publisher, channel string, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, log: log.Named("notification.redis")}
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	message, err := Encode(ctx, n)
	if err != nil {
		return err
	}
	receivers, err := r.client.Publish(ctx, r.channel, message).Result()
	if err != nil {
		return err
	}
	if receivers == 0 {
		r.log.Debug("notification published without subscribers",
			zap.String("channel", r.channel),
			zap.String("kind", string(n.Kind)),
		)
	}
	return nil
}

// Encode renders n as protojson. Correlation and trace ids from ctx are
// stamped under "metadata".
func Encode(ctx context.Context, n Notification) ([]byte, error) {
	if strings.TrimSpace(n.UserID) == "" || n.Kind == "" {
		return nil, ErrInvalidNotification
	}
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	dataStruct, err := structpb.NewStruct(data)
	if err != nil {
		return nil, err
	}

	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"org_id":   structpb.NewStringValue(n.OrgID),
		"user_id":  structpb.NewStringValue(n.UserID),
		"kind":     structpb.NewStringValue(string(n.Kind)),
		"title":    structpb.NewStringValue(n.Title),
		"body":     structpb.NewStringValue(n.Body),
		"data":     structpb.NewStructValue(dataStruct),
		"metadata": structpb.NewStructValue(correlation.InjectTrace(ctx, nil)),
	}}
	return protojson.Marshal(msg)
}

type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notification.log")}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.UserID) == "" || n.Kind == "" {
		return ErrInvalidNotification
	}
	l.log.Info("notification",
		zap.String("org_id", n.OrgID),
		zap.String("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.String("correlation_id", correlation.ExtractCorrelationID(ctx)),
	)
	return nil
}

// NewNotifier picks Redis when a client is configured.
func NewNotifier(client *redis.Client, cfg config.Config, log *zap.Logger) Notifier {
	if client == nil {
		return NewLogNotifier(log)
	}
	return NewRedisNotifier(client, cfg.AppName+":notifications", log)
}
