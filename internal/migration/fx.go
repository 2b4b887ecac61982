package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/smallbiznis/dairyroute/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if !cfg.Bootstrap.Enabled {
			return nil
		}
		org, err := seed.EnsureMainOrg(context.Background(), conn, node, cfg.Bootstrap, cfg.Timezone)
		if err != nil {
			return err
		}
		log.Info("default organization ready", zap.String("org_id", org.ID.String()), zap.String("slug", org.Slug))
		return nil
	}),
)
