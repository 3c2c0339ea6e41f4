package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/replay"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
}

// ReplayOutcome is one transaction's result in replay output.
type ReplayOutcome struct {
	OriginalID int64  `json:"original_id"`
	NewID      int64  `json:"new_id,omitempty"`
	Kind       string `json:"kind"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ReplayResult holds the replay command output.
type ReplayResult struct {
	Account  string          `json:"account"`
	Total    int             `json:"total"`
	Replayed []ReplayOutcome `json:"replayed"`
	Failed   []ReplayOutcome `json:"failed"`
	Skipped  []ReplayOutcome `json:"skipped"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the history between synthetic identities",
		Long: `Replay the primary user's transaction history between the synthetic
identities, oldest first.

Direction follows the historical sign: negative payments are re-sent by
the primary, non-negative payments by the agent, and requests are
re-issued by the agent against the primary regardless of their original
status. Amounts are sent as magnitudes. A failed transaction is recorded
and the run continues.

Run 'sandman provision' and 'sandman fund' first, or use 'sandman run'
for the full pipeline.

Exit codes:
  0 - every transaction replayed
  1 - one or more transactions failed or were skipped
  2 - command error (config, credentials, storage)

Examples:
  sandman replay
  sandman replay --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplayCmd(opts, cmd)
		},
	}

	return cmd
}

func runReplayCmd(opts *ReplayOptions, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	primary, txns, err := app.fetchHistory(ctx)
	if err != nil {
		return err
	}

	reg, err := app.openRegistry(primary.OriginalIBAN)
	if err != nil {
		return err
	}
	if err := reg.SeedPrimary(primary); err != nil {
		return WrapExitError(ExitCommandError, "failed to record primary identity", err)
	}

	scheduler := replay.NewScheduler(primary, reg,
		func(apiKey string) replay.Gateway { return app.client(apiKey) }, app.log)
	report := scheduler.Run(ctx, txns)

	j, err := app.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	runToken, err := j.BeginRun(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to begin journal run", err)
	}
	if err := j.RecordReplay(ctx, runToken, report); err != nil {
		return WrapExitError(ExitCommandError, "failed to journal replay outcomes", err)
	}

	return outputReplay(cmd, opts.Format, primary.OriginalIBAN, report, runToken)
}

func outputReplay(cmd *cobra.Command, format, account string, report replay.Report, runToken string) error {
	incomplete := len(report.Failed) + len(report.Skipped)

	if format == "json" {
		result := ReplayResult{
			Account:  account,
			Total:    report.Total(),
			Replayed: replayOutcomes(report.Replayed),
			Failed:   replayOutcomes(report.Failed),
			Skipped:  replayOutcomes(report.Skipped),
		}
		resp := CLIResponse{Status: "ok", Data: result, Run: runToken}
		if incomplete > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeRemote,
				Message: fmt.Sprintf("%d transactions not replayed", incomplete),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if incomplete > 0 {
			return NewExitError(ExitFailure, "replay incomplete")
		}
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Journal run %s\n", runToken)
	fmt.Fprint(w, replay.Render(report))

	if incomplete > 0 {
		return NewExitError(ExitFailure, "replay incomplete")
	}
	return nil
}

func replayOutcomes(outcomes []replay.Outcome) []ReplayOutcome {
	out := make([]ReplayOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, ReplayOutcome{
			OriginalID: o.OriginalID,
			NewID:      o.NewID,
			Kind:       string(o.Kind),
			Amount:     o.Amount.StringFixed(2),
			Currency:   o.Currency,
			From:       o.From,
			To:         o.To,
			Reason:     o.Reason,
		})
	}
	return out
}
