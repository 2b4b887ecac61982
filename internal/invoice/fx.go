package invoice

import (
	"github.com/smallbiznis/dairyroute/internal/invoice/repository"
	"github.com/smallbiznis/dairyroute/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
