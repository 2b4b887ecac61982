package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePlanningConfig(t *testing.T) {
	assert.NoError(t, ValidatePlanningConfig(DefaultPlanningConfig()))

	cases := map[string]func(*PlanningConfig){
		"zero speed":       func(c *PlanningConfig) { c.AverageSpeedKmh = 0 },
		"negative service": func(c *PlanningConfig) { c.ServiceMinutes = -1 },
		"no capacity":      func(c *PlanningConfig) { c.MaxStopsPerRoute = 0 },
		"empty horizon":    func(c *PlanningConfig) { c.MaterializeHorizon = 0 },
		"tax above one":    func(c *PlanningConfig) { c.TaxRate = 1.5 },
		"negative fee":     func(c *PlanningConfig) { c.DeliveryFee = -10 },
		"depot off globe":  func(c *PlanningConfig) { c.Depot = Depot{Lat: 91} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultPlanningConfig()
			mutate(&cfg)
			assert.Error(t, ValidatePlanningConfig(cfg))
		})
	}
}

func TestPlanningConfigHolderNilFallsBackToDefaults(t *testing.T) {
	var holder *PlanningConfigHolder
	assert.Equal(t, DefaultPlanningConfig(), holder.Get())

	custom := DefaultPlanningConfig()
	custom.TaxRate = 0.12
	assert.Equal(t, 0.12, NewStaticPlanningConfigHolder(custom).Get().TaxRate)
}
