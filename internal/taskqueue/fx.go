package taskqueue

import (
	"context"
	"time"

	"github.com/smallbiznis/dealcadence/internal/config"
	"github.com/smallbiznis/dealcadence/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("taskqueue",
	fx.Provide(provideQueue),
	fx.Provide(func(q *Queue) Submitter { return q }),
)

func provideQueue(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, m *metrics.ScheduleMetrics) *Queue {
	q := New(Config{
		Workers:    cfg.Queue.Workers,
		Capacity:   cfg.Queue.Capacity,
		JobTimeout: time.Duration(cfg.Queue.JobTimeoutSeconds) * time.Second,
	}, log, m)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			q.Start()
			return nil
		},
		OnStop: q.Stop,
	})
	return q
}
