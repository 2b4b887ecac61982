package opsmetrics

import (
	"context"
	"time"

	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("ops.metrics",
	fx.Provide(NewSnapshot),
	fx.Invoke(Run),
)

// Run refreshes and exports the snapshot on cfg.OpsMetrics.Interval. It does
// nothing when no exporter is configured. Export failures are logged once per
// outage and never stop the loop.
func Run(lc fx.Lifecycle, cfg config.Config, snap *Snapshot, db *gorm.DB, clk clock.Clock, log *zap.Logger) {
	if !cfg.OpsMetrics.Enabled() {
		return
	}
	log = log.Named("opsmetrics")

	exporter, err := NewExporter(cfg)
	if err != nil {
		log.Warn("ops metrics disabled", zap.Error(err))
		return
	}

	interval := cfg.OpsMetrics.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	loc := cfg.Location()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("ops metrics exporter started",
				zap.String("exporter", cfg.OpsMetrics.Exporter),
				zap.Duration("interval", interval),
			)
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				failing := false
				for {
					err := exportOnce(ctx, snap, exporter, db, clock.StartOfDay(clk.Now(), loc))
					switch {
					case err != nil && !failing:
						log.Warn("ops metrics export failed", zap.Error(err))
						failing = true
					case err == nil && failing:
						log.Info("ops metrics export recovered")
						failing = false
					}

					select {
					case <-ticker.C:
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return exporter.Close()
		},
	})
}

func exportOnce(ctx context.Context, snap *Snapshot, exporter Exporter, db *gorm.DB, day time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()
	if err := snap.Refresh(ctx, db, day); err != nil {
		return err
	}
	return exporter.Export(ctx, snap.Registry())
}
