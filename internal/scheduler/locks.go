package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	"github.com/smallbiznis/dairyroute/internal/ratelimit"
	"go.uber.org/zap"
)

func (s *Scheduler) lockKey(job string) string {
	return s.appName + ":scheduler:" + job
}

// withJobLock runs fn while this instance holds the job's Redis lock. When
// another instance holds it the run is skipped. Without Redis every run goes
// ahead; the jobs are idempotent.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(context.Context) error) error {
	err := s.locker.WithLock(ctx, s.lockKey(job), s.cfg.LockTTL, fn)
	if errors.Is(err, ratelimit.ErrLockHeld) {
		obsmetrics.Scheduler().IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(ctx).Debug("scheduler.job.lock_held", zap.String("job", job))
		return nil
	}
	return err
}
