package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/audit"
	"github.com/smallbiznis/dairyroute/internal/auth"
	"github.com/smallbiznis/dairyroute/internal/authorization"
	"github.com/smallbiznis/dairyroute/internal/billing"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/smallbiznis/dairyroute/internal/delivery"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/invoice"
	"github.com/smallbiznis/dairyroute/internal/ledger"
	"github.com/smallbiznis/dairyroute/internal/migration"
	"github.com/smallbiznis/dairyroute/internal/notification"
	"github.com/smallbiznis/dairyroute/internal/observability"
	"github.com/smallbiznis/dairyroute/internal/opsmetrics"
	"github.com/smallbiznis/dairyroute/internal/order"
	"github.com/smallbiznis/dairyroute/internal/organization"
	"github.com/smallbiznis/dairyroute/internal/payment"
	"github.com/smallbiznis/dairyroute/internal/product"
	"github.com/smallbiznis/dairyroute/internal/providers/pdf"
	"github.com/smallbiznis/dairyroute/internal/ratelimit"
	"github.com/smallbiznis/dairyroute/internal/route"
	"github.com/smallbiznis/dairyroute/internal/scheduler"
	"github.com/smallbiznis/dairyroute/internal/server"
	"github.com/smallbiznis/dairyroute/internal/subscription"
	"github.com/smallbiznis/dairyroute/internal/user"
	"github.com/smallbiznis/dairyroute/pkg/db"
	"go.uber.org/fx"
)

// The monolith serves the API and runs the scheduler in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		events.Module,
		pdf.Module,

		// Access
		organization.Module,
		authorization.Module,
		auth.Module,
		audit.Module,

		// Functional Domains
		user.Module,
		product.Module,
		subscription.Module,
		delivery.Module,
		order.Module,
		route.Module,
		invoice.Module,
		ledger.Module,
		payment.Module,
		billing.Module,
		notification.Module,

		scheduler.Module,
		opsmetrics.Module,
		fx.Invoke(scheduler.RunInBackground),

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
