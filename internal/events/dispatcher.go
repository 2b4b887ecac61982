package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smallbiznis/dairyroute/internal/clock"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler consumes one event. Handlers must tolerate redelivery.
type Handler func(ctx context.Context, event DomainEvent) error

const DefaultMaxAttempts = 10

type DispatcherParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	obsMetrics  *obsmetrics.Metrics
	maxAttempts int

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:          p.DB,
		log:         p.Log.Named("events.dispatcher"),
		clock:       p.Clock,
		obsMetrics:  p.ObsMetrics,
		maxAttempts: DefaultMaxAttempts,
		handlers:    make(map[string][]Handler),
	}
}

func (d *Dispatcher) Register(eventType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

func (d *Dispatcher) handlersFor(eventType string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Handler(nil), d.handlers[eventType]...)
}

// ProcessPending delivers up to limit unpublished events in insertion order
// and returns how many were published. A failing event keeps its row with
// attempts incremented; the rest of the batch still runs.
func (d *Dispatcher) ProcessPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	var pending []DomainEvent
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, org_id, event_type, payload, dedupe_key, attempts, last_error, published, published_at, created_at
		 FROM domain_events
		 WHERE published = ? AND attempts < ?
		 ORDER BY id ASC
		 LIMIT ?`,
		false,
		d.maxAttempts,
		limit,
	).Scan(&pending).Error
	if err != nil {
		return 0, err
	}

	published := 0
	var errs []error
	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if err := d.dispatch(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", event.EventType, event.ID, err))
			d.markFailed(ctx, event, err)
			d.obsMetrics.RecordEventDispatched(ctx, event.EventType, "failed")
			continue
		}
		if err := d.markPublished(ctx, event); err != nil {
			return published, err
		}
		d.obsMetrics.RecordEventDispatched(ctx, event.EventType, "published")
		published++
	}
	return published, errors.Join(errs...)
}

func (d *Dispatcher) dispatch(ctx context.Context, event DomainEvent) error {
	ctx = orgcontext.WithOrgID(ctx, event.OrgID.Int64())
	ctx = orgcontext.WithActor(ctx, 0, orgcontext.RoleSystem)
	if id := event.String("correlation_id"); id != "" {
		ctx = correlation.ContextWithCorrelationID(ctx, id)
	}

	for _, handler := range d.handlersFor(event.EventType) {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) markPublished(ctx context.Context, event DomainEvent) error {
	now := d.clock.Now()
	return d.db.WithContext(ctx).Exec(
		`UPDATE domain_events SET published = ?, published_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`,
		true,
		now,
		event.ID,
	).Error
}

func (d *Dispatcher) markFailed(ctx context.Context, event DomainEvent, cause error) {
	message := cause.Error()
	if len(message) > 1024 {
		message = message[:1024]
	}
	err := d.db.WithContext(ctx).Exec(
		`UPDATE domain_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		message,
		event.ID,
	).Error
	if err != nil {
		d.log.Error("failed to record event failure", zap.String("event_id", event.ID.String()), zap.Error(err))
		return
	}
	if event.Attempts+1 >= d.maxAttempts {
		d.log.Error("event exhausted retries",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(cause),
		)
	}
}
