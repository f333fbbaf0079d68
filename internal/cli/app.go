package cli

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/calendarsync"
	"github.com/smallbiznis/dealcadence/internal/cbctask"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/config"
	"github.com/smallbiznis/dealcadence/internal/credential"
	"github.com/smallbiznis/dealcadence/internal/meeting"
	"github.com/smallbiznis/dealcadence/internal/migration"
	"github.com/smallbiznis/dealcadence/internal/nextcall"
	"github.com/smallbiznis/dealcadence/internal/observability"
	"github.com/smallbiznis/dealcadence/internal/opportunity"
	"github.com/smallbiznis/dealcadence/internal/providers"
	"github.com/smallbiznis/dealcadence/internal/ratelimit"
	"github.com/smallbiznis/dealcadence/internal/scheduler"
	"github.com/smallbiznis/dealcadence/internal/taskqueue"
	"github.com/smallbiznis/dealcadence/pkg/db"
	"go.uber.org/fx"
)

const oneShotTimeout = 30 * time.Second

// coreModules wires everything a process needs to recalculate schedules,
// without the HTTP server or the scheduler loop.
func coreModules() fx.Option {
	return fx.Options(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		taskqueue.Module,

		// Functional Domains
		opportunity.Module,
		meeting.Module,
		nextcall.Module,
		credential.Module,
		providers.Module,
		cbctask.Module,
		calendarsync.Module,
		scheduler.Module,
	)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// runOneShot starts the core app, hands the populated targets to fn and
// stops the app again so queued task syncs drain before exit.
func runOneShot(ctx context.Context, verbose bool, fn func(ctx context.Context) error, targets ...any) error {
	opts := []fx.Option{coreModules(), fx.Populate(targets...)}
	if !verbose {
		opts = append(opts, fx.NopLogger)
	}
	app := fx.New(opts...)

	startCtx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return WrapExitError(ExitCommandError, "start application", err)
	}

	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), oneShotTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return WrapExitError(ExitFailure, "stop application", err)
	}
	return runErr
}
