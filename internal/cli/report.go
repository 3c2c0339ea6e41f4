package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/journal"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Run  string
	List bool
}

// ReportRun is one journal run in report --list output.
type ReportRun struct {
	Token     string `json:"token"`
	StartedAt string `json:"started_at"`
	Success   int    `json:"success"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// ReportOutcome is one journaled outcome in report output.
type ReportOutcome struct {
	Phase   string `json:"phase"`
	Subject string `json:"subject"`
	State   string `json:"state"`
	Amount  string `json:"amount,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// ReportResult holds the report command output for a single run.
type ReportResult struct {
	Token    string          `json:"token"`
	Outcomes []ReportOutcome `json:"outcomes"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show journaled run outcomes",
		Long: `Show run outcomes from the local journal.

Without flags the latest run's outcomes are shown, grouped by phase
(provision, funding, replay). Use --run to select a specific run, or
--list for a summary of all recorded runs. This command only reads the
journal; the sandbox is never contacted.

Examples:
  sandman report
  sandman report --list
  sandman report --run 0190f8a2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Run, "run", "", "run token to report on (defaults to the latest run)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list all recorded runs")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	j, err := app.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if opts.List {
		return listRuns(ctx, j, opts, cmd)
	}
	return showRun(ctx, j, opts, cmd)
}

func listRuns(ctx context.Context, j *journal.Journal, opts *ReportOptions, cmd *cobra.Command) error {
	runs, err := j.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	out := make([]ReportRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, ReportRun{
			Token:     r.Token,
			StartedAt: r.StartedAt,
			Success:   r.Success,
			Failed:    r.Failed,
			Skipped:   r.Skipped,
		})
	}

	if opts.Format == "json" {
		return writeJSONData(cmd.OutOrStdout(), out, "")
	}

	w := cmd.OutOrStdout()
	if len(out) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	fmt.Fprintf(w, "%d runs recorded\n", len(out))
	for _, r := range out {
		fmt.Fprintf(w, "  %s  %s  %d ok, %d failed, %d skipped\n",
			r.Token, r.StartedAt, r.Success, r.Failed, r.Skipped)
	}
	return nil
}

func showRun(ctx context.Context, j *journal.Journal, opts *ReportOptions, cmd *cobra.Command) error {
	token := opts.Run
	if token == "" {
		latest, err := j.LatestRun(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to resolve latest run", err)
		}
		if latest == "" {
			if opts.Format == "json" {
				return writeJSONData(cmd.OutOrStdout(), ReportResult{Outcomes: []ReportOutcome{}}, "")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}
		token = latest
	}

	rows, err := j.Outcomes(ctx, token)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load outcomes for run %s", token), err)
	}

	result := ReportResult{Token: token, Outcomes: make([]ReportOutcome, 0, len(rows))}
	for _, row := range rows {
		result.Outcomes = append(result.Outcomes, ReportOutcome{
			Phase:   row.Phase,
			Subject: row.Subject,
			State:   row.State,
			Amount:  row.Amount,
			Detail:  row.Detail,
		})
	}

	if opts.Format == "json" {
		return writeJSONData(cmd.OutOrStdout(), result, token)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s: %d outcomes\n", token, len(result.Outcomes))
	phase := ""
	for _, o := range result.Outcomes {
		if o.Phase != phase {
			phase = o.Phase
			fmt.Fprintf(w, "%s:\n", phase)
		}
		fmt.Fprintf(w, "  %-24s %-8s", o.Subject, o.State)
		if o.Amount != "" {
			fmt.Fprintf(w, " %12s", o.Amount)
		}
		if o.Detail != "" {
			fmt.Fprintf(w, "  %s", o.Detail)
		}
		fmt.Fprintln(w)
	}
	return nil
}
