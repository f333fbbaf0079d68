package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	"github.com/spf13/cobra"
)

// batchReport is the printable outcome of a recalculation batch.
type batchReport struct {
	Results   []nextcalldomain.BatchResult `json:"results"`
	Succeeded int                          `json:"succeeded"`
	Failed    int                          `json:"failed"`
}

func (r batchReport) RenderText(w io.Writer) error {
	for _, result := range r.Results {
		if !result.OK() {
			fmt.Fprintf(w, "%s  FAILED  %s\n", result.OpportunityID, result.Error)
			continue
		}
		if result.State == nil {
			fmt.Fprintf(w, "%s  ok\n", result.OpportunityID)
			continue
		}
		fmt.Fprintf(w, "%s  ok  next=%s cbc=%s\n",
			result.OpportunityID,
			formatDate(result.State.NextCall.Date),
			formatDate(result.State.CBC),
		)
	}
	_, err := fmt.Fprintf(w, "%d succeeded, %d failed\n", r.Succeeded, r.Failed)
	return err
}

// NewRecalculateCommand recalculates the given opportunities in argument order.
func NewRecalculateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recalculate <opportunity-id>...",
		Short: "Recalculate next call and CBC dates for opportunities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseOpportunityIDs(args)
			if err != nil {
				return err
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
			var svc nextcalldomain.Service
			return runOneShot(cmd.Context(), opts.Verbose, func(ctx context.Context) error {
				return recalculate(ctx, svc, ids, out)
			}, &svc)
		},
	}
}

func recalculate(ctx context.Context, svc nextcalldomain.Service, ids []snowflake.ID, out *OutputFormatter) error {
	out.VerboseLog("recalculating %d opportunities", len(ids))

	ctx = nextcalldomain.WithTrigger(ctx, nextcalldomain.TriggerManual)
	report := batchReport{Results: svc.RecalculateBatch(ctx, ids)}
	for _, result := range report.Results {
		if result.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	if err := out.Success(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d opportunities failed", report.Failed, len(ids)))
	}
	return nil
}

func parseOpportunityIDs(args []string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(args))
	for _, arg := range args {
		id, err := snowflake.ParseString(strings.TrimSpace(arg))
		if err != nil || id == 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid opportunity id %q", arg))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
