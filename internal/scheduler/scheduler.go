package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/authorization"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/events"
	invoicedomain "github.com/smallbiznis/dairyroute/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/dairyroute/internal/organization/domain"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/ratelimit"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobMaterialize      = "materialize"
	JobPlanRoutes       = "plan_routes"
	JobDispatchEvents   = "dispatch_events"
	JobPostpaidInvoices = "postpaid_invoices"
	JobLedgerVerify     = "ledger_verify"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	AppConfig  config.Config
	Planning   *config.PlanningConfigHolder
	OrgRepo    organizationdomain.Repository
	Deliveries deliverydomain.Service
	Routes     routedomain.Service
	Invoices   invoicedomain.Service
	Ledger     ledgerdomain.Service
	Dispatcher *events.Dispatcher
	AuthzSvc   authorization.Service
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	appName    string
	location   *time.Location
	genID      *snowflake.Node
	clock      clock.Clock
	planning   *config.PlanningConfigHolder
	orgRepo    organizationdomain.Repository
	deliveries deliverydomain.Service
	routes     routedomain.Service
	invoices   invoicedomain.Service
	ledger     ledgerdomain.Service
	dispatcher *events.Dispatcher
	authzSvc   authorization.Service
	locker     *ratelimit.Locker

	mu        sync.Mutex
	lastDaily map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.OrgRepo == nil ||
		p.Deliveries == nil || p.Routes == nil || p.Invoices == nil || p.Ledger == nil ||
		p.Dispatcher == nil || p.AuthzSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		appName:    p.AppConfig.AppName,
		location:   p.AppConfig.Location(),
		genID:      p.GenID,
		clock:      p.Clock,
		planning:   p.Planning,
		orgRepo:    p.OrgRepo,
		deliveries: p.Deliveries,
		routes:     p.Routes,
		invoices:   p.Invoices,
		ledger:     p.Ledger,
		dispatcher: p.Dispatcher,
		authzSvc:   p.AuthzSvc,
		locker:     p.Locker,
		lastDaily:  make(map[string]time.Time),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout; the next tick picks the work up again.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

type job struct {
	name    string
	daily   bool
	timeout time.Duration
	run     func(context.Context) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{JobDispatchEvents, false, 30 * time.Second, s.DispatchEventsJob},
		{JobMaterialize, true, 5 * time.Minute, s.MaterializeJob},
		{JobPlanRoutes, true, 5 * time.Minute, s.PlanRoutesJob},
		{JobPostpaidInvoices, true, 15 * time.Minute, s.PostpaidInvoicesJob},
		{JobLedgerVerify, true, 15 * time.Minute, s.LedgerVerifyJob},
		// Drain events emitted by the jobs above in the same pass.
		{JobDispatchEvents, false, 30 * time.Second, s.DispatchEventsJob},
	}
}

// RunOnce runs every enabled job. Daily jobs run at most once per local day
// per process unless force is set.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runPass(parent, false)
}

// RunAll runs every enabled job regardless of what already ran today.
func (s *Scheduler) RunAll(parent context.Context) error {
	return s.runPass(parent, true)
}

func (s *Scheduler) runPass(parent context.Context, force bool) error {
	var err error
	today := s.today()

	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		if j.daily && !force && s.ranOn(j.name, today) {
			continue
		}
		j := j
		jobErr := s.withJobLock(parent, j.name, func(ctx context.Context) error {
			return s.runJob(ctx, j.name, j.timeout, j.run)
		})
		if jobErr == nil && j.daily {
			s.markRan(j.name, today)
		}
		err = errors.Join(err, jobErr)
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) today() time.Time {
	return clock.StartOfDay(s.clock.Now(), s.location)
}

func (s *Scheduler) ranOn(job string, day time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastDaily[job]
	return ok && last.Equal(day)
}

func (s *Scheduler) markRan(job string, day time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDaily[job] = day
}

// forEachOrg runs fn once per tenant with a system actor on the context.
// A failing tenant does not stop the others.
func (s *Scheduler) forEachOrg(ctx context.Context, jobName string, object, action string, fn func(ctx context.Context, orgID snowflake.ID) (int, error)) error {
	run := jobRunFromContext(ctx)
	orgIDs, err := s.orgRepo.ListIDs(ctx, s.db)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.orgs.list.failed", jobName, 0, err)
		return err
	}

	var jobErr error
	for _, orgID := range orgIDs {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		if err := s.authorizeSystem(ctx, orgID, object, action); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.authorize.failed", jobName, orgID, err)
			continue
		}
		orgCtx := orgcontext.WithOrgID(ctx, orgID.Int64())
		orgCtx = orgcontext.WithActor(orgCtx, 0, orgcontext.RoleSystem)
		orgCtx = s.withLogContext(orgCtx, orgID)

		processed, err := fn(orgCtx, orgID)
		run.AddProcessed(processed)
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("org %s: %w", orgID, err))
			s.logSchedulerError(orgCtx, run, "scheduler.org.process.failed", jobName, orgID, err)
		}
	}
	return jobErr
}

func (s *Scheduler) authorizeSystem(ctx context.Context, orgID snowflake.ID, object, action string) error {
	if object == "" {
		return nil
	}
	return s.authzSvc.Authorize(ctx, "system", orgID.String(), object, action)
}
