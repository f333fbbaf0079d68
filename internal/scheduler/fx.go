package scheduler

import (
	"context"

	"github.com/smallbiznis/dealcadence/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// RunModule starts the stale-schedule loop and the backfill cron with the app.
var RunModule = fx.Module("scheduler.run",
	fx.Invoke(StartScheduler),
)

func StartScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := sched.StartCron(ctx); err != nil {
				cancel()
				return err
			}
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			err := sched.StopCron(stopCtx)
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return err
		},
	})
}
