package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/smallbiznis/dealcadence/internal/scheduler"
	"github.com/spf13/cobra"
)

// backfillRunner is the part of the scheduler the backfill command drives.
type backfillRunner interface {
	SetBatchSize(size int)
	RunOnce(ctx context.Context) error
	RunBackfill(ctx context.Context) error
}

type backfillReport struct {
	Job        string `json:"job"`
	BatchSize  int    `json:"batch_size,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (r backfillReport) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s finished in %s\n", r.Job, time.Duration(r.DurationMS)*time.Millisecond)
	return err
}

type backfillOptions struct {
	staleOnly bool
	batchSize int
}

// NewBackfillCommand runs one backfill pass in the foreground.
func NewBackfillCommand(opts *RootOptions) *cobra.Command {
	bopts := &backfillOptions{}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Recalculate every open opportunity, or only stale ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if bopts.batchSize < 0 {
				return NewExitError(ExitCommandError, "--batch-size must not be negative")
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
			var sched *scheduler.Scheduler
			return runOneShot(cmd.Context(), opts.Verbose, func(ctx context.Context) error {
				return backfill(ctx, sched, *bopts, out)
			}, &sched)
		},
	}

	cmd.Flags().BoolVar(&bopts.staleOnly, "stale-only", false, "only recalculate stale or never-calculated schedules")
	cmd.Flags().IntVar(&bopts.batchSize, "batch-size", 0, "opportunities per page (0 uses the configured size)")
	return cmd
}

func backfill(ctx context.Context, runner backfillRunner, bopts backfillOptions, out *OutputFormatter) error {
	report := backfillReport{Job: scheduler.JobFullBackfill, BatchSize: bopts.batchSize}
	run := runner.RunBackfill
	if bopts.staleOnly {
		report.Job = scheduler.JobStaleSchedules
		run = runner.RunOnce
	}
	runner.SetBatchSize(bopts.batchSize)

	out.VerboseLog("running %s", report.Job)
	start := time.Now()
	err := run(ctx)
	report.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		_ = out.Error("backfill_failed", err.Error(), report)
		return WrapExitError(ExitFailure, report.Job+" failed", err)
	}
	return out.Success(report)
}
