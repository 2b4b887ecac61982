package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/authorization"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	"go.uber.org/zap"
)

// MaterializeJob expands active subscriptions into delivery rows from today
// through the configured horizon.
func (s *Scheduler) MaterializeJob(ctx context.Context) error {
	from := s.today()
	to := from.AddDate(0, 0, s.horizonDays())

	return s.forEachOrg(ctx, JobMaterialize, authorization.ObjectDelivery, authorization.ActionDeliveryMaterialize,
		func(ctx context.Context, orgID snowflake.ID) (int, error) {
			summary, err := s.deliveries.MaterializeRange(ctx, from, to)
			if err != nil {
				return 0, err
			}
			obsmetrics.Scheduler().AddBatchProcessed(JobMaterialize, obsmetrics.LockResourceSubscriptionDeliveries, summary.Created+summary.Refreshed)
			s.logger(ctx).Info("scheduler.materialize.done",
				zap.String("from", from.Format(time.DateOnly)),
				zap.String("to", to.Format(time.DateOnly)),
				zap.Int("subscriptions", summary.Subscriptions),
				zap.Int("created", summary.Created),
				zap.Int("refreshed", summary.Refreshed),
				zap.Int("duplicates", summary.Duplicates),
				zap.Int("failed", summary.Failed),
			)
			return summary.Created + summary.Refreshed, nil
		})
}

// PlanRoutesJob plans tomorrow's routes for every tenant.
func (s *Scheduler) PlanRoutesJob(ctx context.Context) error {
	date := s.today().AddDate(0, 0, 1)

	return s.forEachOrg(ctx, JobPlanRoutes, authorization.ObjectRoute, authorization.ActionRoutePlan,
		func(ctx context.Context, orgID snowflake.ID) (int, error) {
			summary, err := s.routes.PlanDate(ctx, routedomain.PlanRequest{Date: date})
			if err != nil {
				return 0, err
			}
			obsmetrics.Scheduler().AddBatchProcessed(JobPlanRoutes, obsmetrics.LockResourceRoutes, summary.Assigned)
			if summary.Unassigned > 0 {
				obsmetrics.Scheduler().IncBatchDeferred(JobPlanRoutes, obsmetrics.SchedulerBatchDeferredReasonNoAgents)
			}
			s.logger(ctx).Info("scheduler.plan_routes.done",
				zap.String("date", date.Format(time.DateOnly)),
				zap.Int("routes", len(summary.Routes)),
				zap.Int("assigned", summary.Assigned),
				zap.Int("unassigned", summary.Unassigned),
				zap.Int("locked_routes", summary.Locked),
			)
			return summary.Assigned, nil
		})
}

// DispatchEventsJob drains the outbox in batches until it is empty or a
// batch publishes nothing.
func (s *Scheduler) DispatchEventsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		published, err := s.dispatcher.ProcessPending(ctx, s.cfg.EventBatchSize)
		run.AddProcessed(published)
		obsmetrics.Scheduler().AddBatchProcessed(JobDispatchEvents, obsmetrics.LockResourceDomainEvents, published)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.events.dispatch.failed", JobDispatchEvents, 0, err)
		}
		if published < s.cfg.EventBatchSize || published == 0 {
			return jobErr
		}
	}
}

// PostpaidInvoicesJob issues invoices for the previous calendar month. It
// only runs on the first day of the month; issuing is idempotent per period.
func (s *Scheduler) PostpaidInvoicesJob(ctx context.Context) error {
	today := s.today()
	if today.Day() != 1 {
		return nil
	}
	start, end := previousMonth(today)

	return s.forEachOrg(ctx, JobPostpaidInvoices, authorization.ObjectInvoice, authorization.ActionInvoiceGenerate,
		func(ctx context.Context, orgID snowflake.ID) (int, error) {
			summary, err := s.invoices.GenerateForPeriod(ctx, start, end)
			if err != nil {
				return 0, err
			}
			s.logger(ctx).Info("scheduler.postpaid_invoices.done",
				zap.String("period_start", start.Format(time.DateOnly)),
				zap.String("period_end", end.Format(time.DateOnly)),
				zap.Int("users", summary.Users),
				zap.Int("issued", summary.Issued),
				zap.Int("existing", summary.Existing),
				zap.Int("failed", summary.Failed),
			)
			return summary.Issued, nil
		})
}

// LedgerVerifyJob refolds every wallet. Inconsistencies are reported, never
// corrected.
func (s *Scheduler) LedgerVerifyJob(ctx context.Context) error {
	return s.forEachOrg(ctx, JobLedgerVerify, authorization.ObjectLedger, authorization.ActionLedgerVerify,
		func(ctx context.Context, orgID snowflake.ID) (int, error) {
			summary, err := s.ledger.VerifyAll(ctx)
			if errors.Is(err, ledgerdomain.ErrLedgerInconsistent) {
				for _, userID := range summary.Inconsistent {
					s.logger(ctx).Error("ledger.inconsistent",
						zap.String("org_id", orgID.String()),
						zap.String("user_id", userID.String()),
					)
				}
			}
			return summary.Users, err
		})
}

func (s *Scheduler) horizonDays() int {
	if s.planning == nil {
		return 7
	}
	return s.planning.Get().MaterializeHorizon
}

// previousMonth returns the first and last day of the month before day.
func previousMonth(day time.Time) (time.Time, time.Time) {
	firstOfThis := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := firstOfThis.AddDate(0, -1, 0)
	end := firstOfThis.AddDate(0, 0, -1)
	return start, end
}
