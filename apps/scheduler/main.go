package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/audit"
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
	"github.com/smallbiznis/dairyroute/internal/product"
	"github.com/smallbiznis/dairyroute/internal/providers/pdf"
	"github.com/smallbiznis/dairyroute/internal/ratelimit"
	"github.com/smallbiznis/dairyroute/internal/route"
	"github.com/smallbiznis/dairyroute/internal/scheduler"
	"github.com/smallbiznis/dairyroute/internal/subscription"
	"github.com/smallbiznis/dairyroute/internal/user"
	"github.com/smallbiznis/dairyroute/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	options := []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		events.Module,
		pdf.Module,

		// Domain services required by scheduler
		organization.Module,
		authorization.Module,
		audit.Module,
		user.Module,
		product.Module,
		subscription.Module,
		delivery.Module,
		order.Module,
		route.Module,
		invoice.Module,
		ledger.Module,
		billing.Module,
		notification.Module,

		// No server module!
		scheduler.Module,
		opsmetrics.Module,
	}

	if !*once {
		app := fx.New(append(options, fx.Invoke(scheduler.RunInBackground))...)
		app.Run()
		return
	}

	var (
		sched *scheduler.Scheduler
		log   *zap.Logger
	)
	app := fx.New(append(options, fx.Populate(&sched, &log))...)
	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		os.Exit(1)
	}

	code := 0
	if err := sched.RunAll(context.Background()); err != nil {
		log.Error("scheduler run failed", zap.Error(err))
		code = 1
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Warn("shutdown failed", zap.Error(err))
	}
	os.Exit(code)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
