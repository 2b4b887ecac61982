package route

import (
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/route/repository"
	"github.com/smallbiznis/dairyroute/internal/route/service"
	"go.uber.org/fx"
)

var Module = fx.Module("route.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(NewConsumer),
	fx.Invoke(func(c *Consumer, d *events.Dispatcher) {
		c.Register(d)
	}),
)
