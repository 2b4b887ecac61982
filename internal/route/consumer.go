package route

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/route/domain"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ConsumerParams struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
	Svc  domain.Service
}

// Consumer folds work scheduled after a date was planned into the routes that
// are still open for that date. Dates without routes wait for the nightly plan.
type Consumer struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
	svc  domain.Service
}

func NewConsumer(p ConsumerParams) *Consumer {
	return &Consumer{
		db:   p.DB,
		log:  p.Log.Named("route.consumer"),
		repo: p.Repo,
		svc:  p.Svc,
	}
}

func (c *Consumer) Register(d *events.Dispatcher) {
	d.Register(events.EventDeliveryScheduled, c.HandleScheduled)
	d.Register(events.EventOrderCreated, c.HandleScheduled)
}

func (c *Consumer) HandleScheduled(ctx context.Context, event events.DomainEvent) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	date, err := subscriptiondomain.ParseDate(event.String("delivery_date"))
	if err != nil {
		c.log.Warn("scheduled event without delivery date",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
		)
		return nil
	}

	routes, err := c.repo.ListRoutesByDate(ctx, c.db.WithContext(ctx), orgID, date)
	if err != nil {
		return err
	}
	agents := make([]snowflake.ID, 0, len(routes))
	for _, route := range routes {
		if route.Status == domain.RouteStatusPlanned {
			agents = append(agents, route.AgentID)
		}
	}
	if len(agents) == 0 {
		return nil
	}

	summary, err := c.svc.PlanDate(ctx, domain.PlanRequest{Date: date, AgentIDs: agents})
	if err != nil {
		return err
	}
	c.log.Debug("folded late work into planned routes",
		zap.String("org_id", orgID.String()),
		zap.String("date", date.Format(subscriptiondomain.DateLayout)),
		zap.Int("assigned", summary.Assigned),
		zap.Int("unassigned", summary.Unassigned),
	)
	return nil
}
