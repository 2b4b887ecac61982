package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	deliveriesMaterialized metric.Int64Counter
	deliveryTransitions    metric.Int64Counter
	stopsPlanned           metric.Int64Counter
	unassignedDeliveries   metric.Int64Counter
	paymentEvents          metric.Int64Counter
	ledgerEntries          metric.Int64Counter
	eventsDispatched       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "dairyroute"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.deliveriesMaterialized, err = meter.Int64Counter("dairyroute_deliveries_materialized_total"); err != nil {
		return nil, err
	}
	if m.deliveryTransitions, err = meter.Int64Counter("dairyroute_delivery_transitions_total"); err != nil {
		return nil, err
	}
	if m.stopsPlanned, err = meter.Int64Counter("dairyroute_route_stops_planned_total"); err != nil {
		return nil, err
	}
	if m.unassignedDeliveries, err = meter.Int64Counter("dairyroute_unassigned_deliveries_total"); err != nil {
		return nil, err
	}
	if m.paymentEvents, err = meter.Int64Counter("dairyroute_payment_events_total"); err != nil {
		return nil, err
	}
	if m.ledgerEntries, err = meter.Int64Counter("dairyroute_ledger_entries_total"); err != nil {
		return nil, err
	}
	if m.eventsDispatched, err = meter.Int64Counter("dairyroute_events_dispatched_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordDeliveriesMaterialized adds newly created subscription deliveries.
func (m *Metrics) RecordDeliveriesMaterialized(ctx context.Context, orgID string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("org_id", strings.TrimSpace(orgID)))
	m.deliveriesMaterialized.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordDeliveryTransition counts status changes by target status.
func (m *Metrics) RecordDeliveryTransition(ctx context.Context, entity, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("entity", strings.TrimSpace(entity)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.deliveryTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStopsPlanned adds route stops created by the planner.
func (m *Metrics) RecordStopsPlanned(ctx context.Context, orgID string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("org_id", strings.TrimSpace(orgID)))
	m.stopsPlanned.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordUnassigned counts deliveries left without a route.
func (m *Metrics) RecordUnassigned(ctx context.Context, orgID, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.unassignedDeliveries.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventDispatched counts outbox events handed to consumers.
func (m *Metrics) RecordEventDispatched(ctx context.Context, eventType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.eventsDispatched.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":      {},
	"org_tier":    {},
	"endpoint":    {},
	"status_code": {},
	"entity":      {},
	"status":      {},
	"provider":    {},
	"event_type":  {},
	"source_type": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
