package billing

import (
	"github.com/smallbiznis/dairyroute/internal/events"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.consumer",
	fx.Provide(NewConsumer),
	fx.Invoke(func(c *Consumer, d *events.Dispatcher) {
		c.Register(d)
	}),
)
