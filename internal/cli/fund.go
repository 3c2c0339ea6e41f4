package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/agent"
	"github.com/nevolodia/bunq-sandman/internal/funding"
)

// FundOptions holds flags for the fund command.
type FundOptions struct {
	*RootOptions
}

// FundOutcome is one agent's funding result in fund output.
type FundOutcome struct {
	IBAN   string `json:"iban"`
	Amount string `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// FundResult holds the fund command output.
type FundResult struct {
	Account string        `json:"account"`
	Sponsor string        `json:"sponsor"`
	Funded  []FundOutcome `json:"funded"`
	Failed  []FundOutcome `json:"failed"`
	Skipped []FundOutcome `json:"skipped"`
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FundOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Fund provisioned identities from the sponsor",
		Long: `Request an initial balance for every provisioned identity.

The required balance is computed by simulating the history oldest first
and tracking each counterparty's running minimum; the deepest dip plus
the configured buffer becomes the funding target. Each identity requests
that amount from the sandbox sponsor account itself, which auto-accepts.

Agents without a provisioned identity are skipped, not failed: run
'sandman provision' first, or use 'sandman run' for the full pipeline.

Exit codes:
  0 - every funding request placed
  1 - one or more funding requests failed
  2 - command error (config, credentials, storage)

Examples:
  sandman fund
  sandman fund --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFund(opts, cmd)
		},
	}

	return cmd
}

func runFund(opts *FundOptions, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	primary, txns, err := app.fetchHistory(ctx)
	if err != nil {
		return err
	}
	agents := agent.Extract(txns, app.log)
	required := funding.Compute(txns, agent.IBANs(agents), app.cfg.Replay.BufferAmount(), app.log)

	reg, err := app.openRegistry(primary.OriginalIBAN)
	if err != nil {
		return err
	}

	funder := funding.NewFunder(reg,
		func(apiKey string) funding.Requester { return app.client(apiKey) },
		app.cfg.Replay.SponsorEmail, app.cfg.Replay.Currency, app.log)
	report := funder.Fund(ctx, required)

	j, err := app.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	runToken, err := j.BeginRun(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to begin journal run", err)
	}
	if err := j.RecordFunding(ctx, runToken, report); err != nil {
		return WrapExitError(ExitCommandError, "failed to journal funding outcomes", err)
	}

	result := FundResult{
		Account: primary.OriginalIBAN,
		Sponsor: app.cfg.Replay.SponsorEmail,
		Funded:  fundOutcomes(report.Success),
		Failed:  fundOutcomes(report.Failed),
		Skipped: fundOutcomes(report.Skipped),
	}
	return outputFund(cmd, opts.Format, app.cfg.Replay.Currency, result, runToken)
}

func fundOutcomes(outcomes []funding.Outcome) []FundOutcome {
	out := make([]FundOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, FundOutcome{
			IBAN:   o.IBAN,
			Amount: o.Amount.StringFixed(2),
			Reason: o.Reason,
		})
	}
	return out
}

func outputFund(cmd *cobra.Command, format, currency string, result FundResult, runToken string) error {
	failed := len(result.Failed)

	if format == "json" {
		resp := CLIResponse{Status: "ok", Data: result, Run: runToken}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeRemote,
				Message: fmt.Sprintf("%d funding requests failed", failed),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if failed > 0 {
			return NewExitError(ExitFailure, "funding incomplete")
		}
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Funding run %s via %s (%d funded, %d failed, %d skipped)\n",
		runToken, result.Sponsor, len(result.Funded), failed, len(result.Skipped))
	for _, o := range result.Funded {
		fmt.Fprintf(w, "  + %-24s %12s %s\n", o.IBAN, o.Amount, currency)
	}
	for _, o := range result.Skipped {
		fmt.Fprintf(w, "  = %-24s %12s %s  [%s]\n", o.IBAN, o.Amount, currency, o.Reason)
	}
	for _, o := range result.Failed {
		fmt.Fprintf(w, "  ! %-24s %12s %s  [%s]\n", o.IBAN, o.Amount, currency, o.Reason)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, "funding incomplete")
	}
	return nil
}
