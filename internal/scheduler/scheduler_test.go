package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/dairyroute/internal/authorization"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/events"
	invoicedomain "github.com/smallbiznis/dairyroute/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/dairyroute/internal/organization/domain"
	organizationrepo "github.com/smallbiznis/dairyroute/internal/organization/repository"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type call struct {
	orgID snowflake.ID
	from  time.Time
	to    time.Time
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) add(ctx context.Context, from, to time.Time) {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{orgID: orgID, from: from, to: to})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeDeliveries struct {
	deliverydomain.Service
	recorder
}

func (f *fakeDeliveries) MaterializeRange(ctx context.Context, from, to time.Time) (deliverydomain.MaterializeSummary, error) {
	f.add(ctx, from, to)
	return deliverydomain.MaterializeSummary{From: from, To: to, Subscriptions: 2, Created: 3}, nil
}

type fakeRoutes struct {
	routedomain.Service
	recorder
}

func (f *fakeRoutes) PlanDate(ctx context.Context, req routedomain.PlanRequest) (routedomain.PlanSummary, error) {
	f.add(ctx, req.Date, req.Date)
	return routedomain.PlanSummary{Date: req.Date, Assigned: 4}, nil
}

type fakeInvoices struct {
	invoicedomain.Service
	recorder
}

func (f *fakeInvoices) GenerateForPeriod(ctx context.Context, start, end time.Time) (invoicedomain.GenerateSummary, error) {
	f.add(ctx, start, end)
	return invoicedomain.GenerateSummary{PeriodStart: start, PeriodEnd: end, Users: 1, Issued: 1}, nil
}

type fakeLedger struct {
	ledgerdomain.Service
	recorder
	inconsistent []snowflake.ID
}

func (f *fakeLedger) VerifyAll(ctx context.Context) (ledgerdomain.VerifySummary, error) {
	f.add(ctx, time.Time{}, time.Time{})
	summary := ledgerdomain.VerifySummary{Users: 5, Inconsistent: f.inconsistent}
	if len(f.inconsistent) > 0 {
		return summary, ledgerdomain.ErrLedgerInconsistent
	}
	return summary, nil
}

type fakeAuthz struct {
	deny map[string]bool
}

func (f *fakeAuthz) Authorize(ctx context.Context, actor, orgID, object, action string) error {
	if actor != "system" {
		return authorization.ErrInvalidActor
	}
	if f.deny[orgID] {
		return authorization.ErrForbidden
	}
	return nil
}

type schedFixture struct {
	sched      *Scheduler
	db         *gorm.DB
	clk        *clock.FakeClock
	node       *snowflake.Node
	deliveries *fakeDeliveries
	routes     *fakeRoutes
	invoices   *fakeInvoices
	ledger     *fakeLedger
	authz      *fakeAuthz
	dispatcher *events.Dispatcher
	orgs       []snowflake.ID
}

func newSchedFixture(t *testing.T, now time.Time, cfg Config) *schedFixture {
	t.Helper()
	useTestRegistry(t)

	db := dbtest.Open(t, &organizationdomain.Organization{}, &events.DomainEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)

	f := &schedFixture{
		db:         db,
		clk:        clk,
		node:       node,
		deliveries: &fakeDeliveries{},
		routes:     &fakeRoutes{},
		invoices:   &fakeInvoices{},
		ledger:     &fakeLedger{},
		authz:      &fakeAuthz{deny: map[string]bool{}},
		dispatcher: events.NewDispatcher(events.DispatcherParams{DB: db, Log: zap.NewNop(), Clock: clk}),
	}

	orgs := organizationrepo.Provide()
	for _, slug := range []string{"north", "south"} {
		org := &organizationdomain.Organization{
			ID:           node.Generate(),
			Name:         slug,
			Slug:         slug,
			TimezoneName: "UTC",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		require.NoError(t, orgs.Insert(context.Background(), db, org))
		f.orgs = append(f.orgs, org.ID)
	}

	sched, err := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		AppConfig:  config.Config{AppName: "dairyroute", Timezone: "UTC"},
		Planning:   config.NewStaticPlanningConfigHolder(config.DefaultPlanningConfig()),
		OrgRepo:    orgs,
		Deliveries: f.deliveries,
		Routes:     f.routes,
		Invoices:   f.invoices,
		Ledger:     f.ledger,
		Dispatcher: f.dispatcher,
		AuthzSvc:   f.authz,
		Config:     cfg,
	})
	require.NoError(t, err)
	f.sched = sched
	return f
}

func TestRunOnceRunsDailyJobsOncePerDay(t *testing.T) {
	f := newSchedFixture(t, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), Config{})
	ctx := context.Background()

	require.NoError(t, f.sched.RunOnce(ctx))

	require.Equal(t, 2, f.deliveries.count())
	first := f.deliveries.calls[0]
	assert.Equal(t, f.orgs[0], first.orgID)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), first.from)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), first.to)

	require.Equal(t, 2, f.routes.count())
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), f.routes.calls[0].from)

	require.Equal(t, 2, f.invoices.count())
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), f.invoices.calls[0].from)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), f.invoices.calls[0].to)

	assert.Equal(t, 2, f.ledger.count())

	// Same day: daily jobs are skipped.
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, 2, f.deliveries.count())
	assert.Equal(t, 2, f.routes.count())

	// Next day: everything but invoicing runs again.
	f.clk.Advance(24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, 4, f.deliveries.count())
	assert.Equal(t, 4, f.routes.count())
	assert.Equal(t, 2, f.invoices.count())
	assert.Equal(t, 4, f.ledger.count())

	// RunAll ignores the daily guard.
	require.NoError(t, f.sched.RunAll(ctx))
	assert.Equal(t, 6, f.deliveries.count())
}

func TestForbiddenTenantDoesNotStopOthers(t *testing.T) {
	f := newSchedFixture(t, time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC), Config{EnabledJobs: []string{JobMaterialize}})
	f.authz.deny[f.orgs[0].String()] = true

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	require.Equal(t, 1, f.deliveries.count())
	assert.Equal(t, f.orgs[1], f.deliveries.calls[0].orgID)
	assert.Zero(t, f.routes.count())

	// A failed daily job is retried on the next tick.
	delete(f.authz.deny, f.orgs[0].String())
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 3, f.deliveries.count())
}

func TestLedgerInconsistencyIsReported(t *testing.T) {
	f := newSchedFixture(t, time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC), Config{EnabledJobs: []string{JobLedgerVerify}})
	f.ledger.inconsistent = []snowflake.ID{f.node.Generate()}

	err := f.sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, ledgerdomain.ErrLedgerInconsistent)
	assert.Equal(t, 2, f.ledger.count())
}

func TestDispatchEventsDrainsOutbox(t *testing.T) {
	f := newSchedFixture(t, time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC), Config{
		EnabledJobs:    []string{JobDispatchEvents},
		EventBatchSize: 2,
	})

	var handled int
	f.dispatcher.Register(events.EventDeliveryScheduled, func(ctx context.Context, event events.DomainEvent) error {
		handled++
		return nil
	})
	outbox := events.NewOutbox(f.node, f.clk)
	ctx := orgcontext.WithOrgID(context.Background(), f.orgs[0].Int64())
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < 5; i++ {
			if err := outbox.PublishTx(ctx, tx, events.Event{
				OrgID:   f.orgs[0],
				Type:    events.EventDeliveryScheduled,
				Payload: map[string]any{"delivery_id": f.node.Generate().String()},
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 5, handled)

	var pending int64
	require.NoError(t, f.db.Model(&events.DomainEvent{}).Where("published = ?", false).Count(&pending).Error)
	assert.Zero(t, pending)
}

func TestPreviousMonth(t *testing.T) {
	start, end := previousMonth(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), end)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestRegistry(t)
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "dairyroute",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "dairyroute",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "dairyroute_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "dairyroute",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "dairyroute_scheduler_job_errors_total", errorLabels))
}

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	obsmetrics.ResetSchedulerMetricsForTest()
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	})
	return registry
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
