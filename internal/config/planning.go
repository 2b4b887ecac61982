package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlanningConfig carries the operational knobs for materialization, route
// planning and order pricing. It is reloaded at runtime from planning.yml.
type PlanningConfig struct {
	Depot              Depot   `mapstructure:"depot"`
	AverageSpeedKmh    float64 `mapstructure:"averageSpeedKmh"`
	ServiceMinutes     float64 `mapstructure:"serviceMinutes"`
	MaxStopsPerRoute   int     `mapstructure:"maxStopsPerRoute"`
	MaterializeHorizon int     `mapstructure:"materializeHorizonDays"`
	TaxRate            float64 `mapstructure:"taxRate"`
	DeliveryFee        float64 `mapstructure:"deliveryFee"`
	FreeDeliveryAbove  float64 `mapstructure:"freeDeliveryAbove"`
}

type Depot struct {
	Lat float64 `mapstructure:"lat"`
	Lng float64 `mapstructure:"lng"`
}

func (d Depot) IsSet() bool {
	return d.Lat != 0 || d.Lng != 0
}

func DefaultPlanningConfig() PlanningConfig {
	return PlanningConfig{
		AverageSpeedKmh:    20,
		ServiceMinutes:     2,
		MaxStopsPerRoute:   120,
		MaterializeHorizon: 7,
		TaxRate:            0.05,
		DeliveryFee:        20,
		FreeDeliveryAbove:  500,
	}
}

type PlanningConfigHolder struct {
	current atomic.Value // holds PlanningConfig
}

// NewStaticPlanningConfigHolder wraps a fixed config, mostly for tests.
func NewStaticPlanningConfigHolder(cfg PlanningConfig) *PlanningConfigHolder {
	holder := &PlanningConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPlanningConfigHolder(cfg Config) (*PlanningConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("planning")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/dairyroute/config")
	v.AddConfigPath("/etc/dairyroute")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DAIRYROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanningConfig()
	v.SetDefault("planning.depot.lat", defaults.Depot.Lat)
	v.SetDefault("planning.depot.lng", defaults.Depot.Lng)
	v.SetDefault("planning.averageSpeedKmh", defaults.AverageSpeedKmh)
	v.SetDefault("planning.serviceMinutes", defaults.ServiceMinutes)
	v.SetDefault("planning.maxStopsPerRoute", defaults.MaxStopsPerRoute)
	v.SetDefault("planning.materializeHorizonDays", defaults.MaterializeHorizon)
	v.SetDefault("planning.taxRate", defaults.TaxRate)
	v.SetDefault("planning.deliveryFee", defaults.DeliveryFee)
	v.SetDefault("planning.freeDeliveryAbove", defaults.FreeDeliveryAbove)

	configFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		configFound = false
	}

	var planning PlanningConfig
	if err := v.UnmarshalKey("planning", &planning); err != nil {
		return nil, err
	}
	if err := ValidatePlanningConfig(planning); err != nil {
		return nil, err
	}

	holder := &PlanningConfigHolder{}
	holder.current.Store(planning)

	if configFound && cfg.PlanningHotReload {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PlanningConfig
			if err := v.UnmarshalKey("planning", &updated); err != nil {
				log.Printf("[planning-config] reload failed: %v", err)
				return
			}
			if err := ValidatePlanningConfig(updated); err != nil {
				log.Printf("[planning-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[planning-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *PlanningConfigHolder) Get() PlanningConfig {
	if h == nil {
		return DefaultPlanningConfig()
	}
	return h.current.Load().(PlanningConfig)
}

func ValidatePlanningConfig(cfg PlanningConfig) error {
	if cfg.AverageSpeedKmh <= 0 {
		return errors.New("planning.averageSpeedKmh must be positive")
	}
	if cfg.ServiceMinutes < 0 {
		return errors.New("planning.serviceMinutes cannot be negative")
	}
	if cfg.MaxStopsPerRoute <= 0 {
		return errors.New("planning.maxStopsPerRoute must be positive")
	}
	if cfg.MaterializeHorizon < 1 {
		return errors.New("planning.materializeHorizonDays must be at least 1")
	}
	if cfg.TaxRate < 0 || cfg.TaxRate > 1 {
		return errors.New("planning.taxRate must be between 0 and 1")
	}
	if cfg.DeliveryFee < 0 || cfg.FreeDeliveryAbove < 0 {
		return errors.New("planning.deliveryFee cannot be negative")
	}
	if cfg.Depot.Lat < -90 || cfg.Depot.Lat > 90 || cfg.Depot.Lng < -180 || cfg.Depot.Lng > 180 {
		return errors.New("planning.depot is out of range")
	}
	return nil
}
