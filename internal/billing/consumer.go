// Package billing charges prepaid wallets as deliveries and orders complete.
// Postpaid activity is left for the period invoice.
package billing

import (
	"context"

	"github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/events"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/dairyroute/internal/order/domain"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	DeliveryRepo domain.Repository
	OrderRepo    orderdomain.Repository
	Ledger       ledgerdomain.Service
}

type Consumer struct {
	db           *gorm.DB
	log          *zap.Logger
	deliveryRepo domain.Repository
	orderRepo    orderdomain.Repository
	ledger       ledgerdomain.Service
}

func NewConsumer(p Params) *Consumer {
	return &Consumer{
		db:           p.DB,
		log:          p.Log.Named("billing.consumer"),
		deliveryRepo: p.DeliveryRepo,
		orderRepo:    p.OrderRepo,
		ledger:       p.Ledger,
	}
}

func (c *Consumer) Register(d *events.Dispatcher) {
	d.Register(events.EventDeliveryDelivered, c.HandleDeliveryDelivered)
	d.Register(events.EventOrderDelivered, c.HandleOrderDelivered)
}

// HandleDeliveryDelivered debits the wallet for a prepaid delivery. The row
// is reloaded so the charge uses the stored price snapshot, not the payload.
func (c *Consumer) HandleDeliveryDelivered(ctx context.Context, event events.DomainEvent) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return ledgerdomain.ErrInvalidOrganization
	}
	id, ok := event.SnowflakeID("delivery_id")
	if !ok {
		c.log.Warn("delivered event without delivery id", zap.String("event_id", event.ID.String()))
		return nil
	}

	delivery, err := c.deliveryRepo.FindByID(ctx, c.db, orgID, id)
	if err != nil {
		return err
	}
	if delivery == nil {
		c.log.Warn("delivered event for missing delivery", zap.String("delivery_id", id.String()))
		return nil
	}
	if delivery.Status != domain.StatusDelivered || delivery.PaymentMode != subscriptiondomain.PaymentModePrepaid {
		return nil
	}

	return c.debit(ctx, ledgerdomain.AppendRequest{
		UserID:      delivery.UserID,
		EntryType:   ledgerdomain.EntryTypeDebit,
		Amount:      delivery.Amount(),
		SourceType:  ledgerdomain.SourceTypeDelivery,
		SourceID:    delivery.ID,
		Description: "Delivery " + delivery.DeliveryDate.Format(subscriptiondomain.DateLayout),
	})
}

func (c *Consumer) HandleOrderDelivered(ctx context.Context, event events.DomainEvent) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return ledgerdomain.ErrInvalidOrganization
	}
	id, ok := event.SnowflakeID("order_id")
	if !ok {
		c.log.Warn("delivered event without order id", zap.String("event_id", event.ID.String()))
		return nil
	}

	order, err := c.orderRepo.FindByID(ctx, c.db, orgID, id)
	if err != nil {
		return err
	}
	if order == nil {
		c.log.Warn("delivered event for missing order", zap.String("order_id", id.String()))
		return nil
	}
	if order.Status != orderdomain.OrderStatusDelivered || order.PaymentMode != subscriptiondomain.PaymentModePrepaid {
		return nil
	}

	return c.debit(ctx, ledgerdomain.AppendRequest{
		UserID:      order.UserID,
		EntryType:   ledgerdomain.EntryTypeDebit,
		Amount:      order.Total,
		SourceType:  ledgerdomain.SourceTypeOrder,
		SourceID:    order.ID,
		Description: "Order " + order.ID.String(),
	})
}

func (c *Consumer) debit(ctx context.Context, req ledgerdomain.AppendRequest) error {
	if !req.Amount.IsPositive() {
		return nil
	}
	entry, err := c.ledger.Append(ctx, req)
	if err != nil {
		c.log.Error("failed to post prepaid charge",
			zap.String("source_type", string(req.SourceType)),
			zap.String("source_id", req.SourceID.String()),
			zap.Error(err),
		)
		return err
	}
	if entry.RunningBalance.IsNegative() {
		c.log.Info("prepaid wallet overdrawn",
			zap.String("user_id", req.UserID.String()),
			zap.String("balance", entry.RunningBalance.StringFixed(2)),
		)
	}
	return nil
}
