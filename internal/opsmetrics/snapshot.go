// Package opsmetrics samples business gauges from the database and ships them
// to an external metrics backend.
package opsmetrics

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Snapshot owns a private registry so exports never include HTTP or runtime
// collectors from the default one.
type Snapshot struct {
	registry      *prometheus.Registry
	organizations prometheus.Gauge
	subscriptions *prometheus.GaugeVec
	deliveries    *prometheus.GaugeVec
	outstanding   *prometheus.GaugeVec
	memory        prometheus.Gauge
}

func NewSnapshot() *Snapshot {
	s := &Snapshot{
		registry: prometheus.NewRegistry(),
		organizations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dairyroute_organizations",
			Help: "Tenants on this deployment.",
		}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dairyroute_subscriptions",
			Help: "Subscriptions by tenant and status.",
		}, []string{"org_id", "status"}),
		deliveries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dairyroute_deliveries_today",
			Help: "Today's subscription deliveries by tenant and status.",
		}, []string{"org_id", "status"}),
		outstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dairyroute_invoice_outstanding_amount",
			Help: "Unpaid balance on issued invoices by tenant.",
		}, []string{"org_id"}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dairyroute_process_memory_bytes",
			Help: "Memory obtained from the OS by the exporting process.",
		}),
	}
	s.registry.MustRegister(s.organizations, s.subscriptions, s.deliveries, s.outstanding, s.memory)
	return s
}

func (s *Snapshot) Registry() *prometheus.Registry {
	return s.registry
}

type statusCount struct {
	OrgID  int64
	Status string
	Total  int64
}

type orgAmount struct {
	OrgID int64
	Total decimal.Decimal
}

// Refresh replaces every gauge with the current database state. day is the
// tenant-local calendar day used for the delivery gauge.
func (s *Snapshot) Refresh(ctx context.Context, db *gorm.DB, day time.Time) error {
	conn := db.WithContext(ctx)

	var orgs int64
	if err := conn.Table("organizations").Count(&orgs).Error; err != nil {
		return err
	}

	var subs []statusCount
	if err := conn.Table("subscriptions").
		Select("org_id, status, COUNT(*) AS total").
		Group("org_id, status").
		Scan(&subs).Error; err != nil {
		return err
	}

	var deliveries []statusCount
	if err := conn.Table("subscription_deliveries").
		Select("org_id, status, COUNT(*) AS total").
		Where("delivery_date = ?", day).
		Group("org_id, status").
		Scan(&deliveries).Error; err != nil {
		return err
	}

	var balances []orgAmount
	if err := conn.Table("invoices").
		Select("org_id, COALESCE(SUM(balance), 0) AS total").
		Where("status IN ?", []string{"issued", "partially_paid"}).
		Group("org_id").
		Scan(&balances).Error; err != nil {
		return err
	}

	s.organizations.Set(float64(orgs))
	setStatusCounts(s.subscriptions, subs)
	setStatusCounts(s.deliveries, deliveries)
	s.outstanding.Reset()
	for _, b := range balances {
		s.outstanding.WithLabelValues(strconv.FormatInt(b.OrgID, 10)).Set(b.Total.InexactFloat64())
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.memory.Set(float64(mem.Sys))
	return nil
}

func setStatusCounts(vec *prometheus.GaugeVec, rows []statusCount) {
	vec.Reset()
	for _, row := range rows {
		vec.WithLabelValues(strconv.FormatInt(row.OrgID, 10), row.Status).Set(float64(row.Total))
	}
}
