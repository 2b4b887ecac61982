package payment

import (
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/smallbiznis/dairyroute/internal/payment/adapters"
	"github.com/smallbiznis/dairyroute/internal/payment/adapters/razorpay"
	"github.com/smallbiznis/dairyroute/internal/payment/domain"
	"github.com/smallbiznis/dairyroute/internal/payment/repository"
	paymentservice "github.com/smallbiznis/dairyroute/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(paymentservice.NewService),
)

// NewRegistry registers the gateways that have credentials configured. With
// none, topups are unavailable and manual payments still work.
func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	var gateways []domain.Gateway
	if cfg.Razorpay.Enabled() {
		adapter, err := razorpay.New(cfg.Razorpay)
		if err != nil {
			log.Warn("razorpay gateway disabled", zap.Error(err))
		} else {
			gateways = append(gateways, adapter)
		}
	}
	return adapters.NewRegistry(gateways...)
}
