package cli

import (
	"github.com/smallbiznis/dealcadence/internal/scheduler"
	"github.com/smallbiznis/dealcadence/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// NewServeCommand runs the HTTP API together with the scheduler loop.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var withoutScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options := []fx.Option{coreModules(), server.Module}
			if !withoutScheduler {
				options = append(options, scheduler.RunModule)
			}
			if !opts.Verbose {
				options = append(options, fx.NopLogger)
			}
			fx.New(options...).Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withoutScheduler, "no-scheduler", false, "serve the API without the background scheduler")
	return cmd
}

// NewSchedulerCommand runs only the stale-schedule loop and the backfill cron.
func NewSchedulerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the background scheduler without the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options := []fx.Option{coreModules(), scheduler.RunModule}
			if !opts.Verbose {
				options = append(options, fx.NopLogger)
			}
			fx.New(options...).Run()
			return nil
		},
	}
}
