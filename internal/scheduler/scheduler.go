package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/config"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	obsmetrics "github.com/smallbiznis/dealcadence/internal/observability/metrics"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobStaleSchedules = "stale_schedules"
	JobFullBackfill   = "full_backfill"

	backfillLeaseKey = "dealcadence:scheduler:full_backfill"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	ScheduleCfg     *config.ScheduleConfigHolder
	OpportunityRepo opportunitydomain.Repository
	NextCall        nextcalldomain.Service
	Locker          *ratelimit.Locker           `optional:"true"`
	Metrics         *obsmetrics.ScheduleMetrics `optional:"true"`
	Config          Config                      `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	scheduleCfg     *config.ScheduleConfigHolder
	opportunityRepo opportunitydomain.Repository
	nextCall        nextcalldomain.Service
	locker          *ratelimit.Locker
	metrics         *obsmetrics.ScheduleMetrics

	mu            sync.Mutex
	cron          *cron.Cron
	batchOverride int
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.ScheduleCfg == nil || p.OpportunityRepo == nil || p.NextCall == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		scheduleCfg:     p.ScheduleCfg,
		opportunityRepo: p.OpportunityRepo,
		nextCall:        p.NextCall,
		locker:          p.Locker,
		metrics:         p.Metrics,
	}, nil
}

// runJob wraps fn with a deadline, a run ID, start and finish logs and job
// metrics. Hitting the deadline is a soft failure and returns nil.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.AddErrors(1)
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs one stale-schedule sweep.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobStaleSchedules, s.batchSize(), s.cfg.JobTimeout, s.StaleSchedulesJob)
}

// RunForever sweeps stale schedules on every tick until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.metrics.ObserveRunLoopLag(time.Since(nextRun))
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

// RunBackfill runs a full backfill now, under the replica lease when one is
// configured.
func (s *Scheduler) RunBackfill(parent context.Context) error {
	err := s.locker.WithLease(parent, backfillLeaseKey, s.cfg.BackfillTimeout+time.Minute, func(ctx context.Context) error {
		return s.runJob(ctx, JobFullBackfill, s.batchSize(), s.cfg.BackfillTimeout, s.FullBackfillJob)
	})
	if errors.Is(err, ratelimit.ErrLeaseHeld) {
		s.metrics.IncLeaseSkipped(JobFullBackfill)
		s.log.Info("backfill skipped, lease held by another replica")
		return nil
	}
	return err
}

// StartCron registers the full backfill on the configured cron spec.
func (s *Scheduler) StartCron(ctx context.Context) error {
	spec := s.scheduleCfg.Get().Backfill.Cron
	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if err := s.RunBackfill(ctx); err != nil {
			s.log.Warn("backfill failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register backfill cron %q: %w", spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.log.Info("backfill cron started", zap.String("spec", spec))
	return nil
}

// StopCron stops the cron and waits for a running backfill to return.
func (s *Scheduler) StopCron(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StaleSchedulesJob recalculates open opportunities whose schedule was never
// computed, is older than the stale threshold or whose next call has passed.
func (s *Scheduler) StaleSchedulesJob(ctx context.Context) error {
	backfill := s.scheduleCfg.Get().Backfill
	now := s.clock.Now().UTC()
	query := opportunitydomain.StaleQuery{
		CalculatedBefore: now.Add(-backfill.StaleAfter),
		Now:              now,
		Limit:            s.batchSize(),
	}

	ctx = nextcalldomain.WithTrigger(ctx, nextcalldomain.TriggerScheduler)
	return s.sweep(ctx, JobStaleSchedules, func(afterID snowflake.ID) ([]snowflake.ID, error) {
		query.AfterID = afterID
		return s.opportunityRepo.ListStaleIDs(ctx, s.db, query)
	})
}

// FullBackfillJob recalculates every open opportunity.
func (s *Scheduler) FullBackfillJob(ctx context.Context) error {
	limit := s.batchSize()
	ctx = nextcalldomain.WithTrigger(ctx, nextcalldomain.TriggerBackfill)
	return s.sweep(ctx, JobFullBackfill, func(afterID snowflake.ID) ([]snowflake.ID, error) {
		return s.opportunityRepo.ListOpenIDs(ctx, s.db, afterID, limit)
	})
}

// sweep pages through ids by cursor and recalculates each page in order.
// Failures are collected and never stop the sweep.
func (s *Scheduler) sweep(ctx context.Context, job string, next func(afterID snowflake.ID) ([]snowflake.ID, error)) error {
	run := jobRunFromContext(ctx)
	var (
		jobErr  error
		afterID snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		ids, err := next(afterID)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			return jobErr
		}

		ok, failed := 0, 0
		for _, result := range s.nextCall.RecalculateBatch(ctx, ids) {
			if result.OK() {
				ok++
				continue
			}
			failed++
			jobErr = errors.Join(jobErr, fmt.Errorf("opportunity %s: %w", result.OpportunityID, result.Err))
		}
		run.AddProcessed(ok)
		run.AddErrors(failed)
		s.metrics.AddBatchProcessed(job, "ok", ok)
		s.metrics.AddBatchProcessed(job, "failed", failed)

		afterID = ids[len(ids)-1]
	}
}

// SetBatchSize overrides the configured page size. Zero restores it.
func (s *Scheduler) SetBatchSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchOverride = size
}

func (s *Scheduler) batchSize() int {
	s.mu.Lock()
	override := s.batchOverride
	s.mu.Unlock()
	if override > 0 {
		return override
	}
	if size := s.scheduleCfg.Get().Backfill.BatchSize; size > 0 {
		return size
	}
	return config.DefaultScheduleConfig().Backfill.BatchSize
}
