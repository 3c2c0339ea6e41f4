package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/agent"
	"github.com/nevolodia/bunq-sandman/internal/funding"
	"github.com/nevolodia/bunq-sandman/internal/replay"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
}

// AgentPlan summarizes the work one counterparty would require.
type AgentPlan struct {
	IBAN         string `json:"iban"`
	Transactions int    `json:"transactions"`
	Provisioned  bool   `json:"provisioned"`
	Required     string `json:"required"`
}

// PlanResult holds the plan command output.
type PlanResult struct {
	Account      string      `json:"account"`
	Transactions int         `json:"transactions"`
	Buffer       string      `json:"buffer"`
	Agents       []AgentPlan `json:"agents"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview agents and funding requirements",
		Long: `Preview what a full run would do, without touching the sandbox.

The primary user's history is fetched and reduced to the set of distinct
counterparties. For each counterparty the command reports how many
transactions involve it, whether an identity is already provisioned for
it, and the balance it would be funded with (simulated running minimum
plus the configured buffer).

Examples:
  sandman plan
  sandman plan --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, cmd)
		},
	}

	return cmd
}

func runPlan(opts *PlanOptions, cmd *cobra.Command) error {
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

	result := PlanResult{
		Account:      primary.OriginalIBAN,
		Transactions: len(txns),
		Buffer:       app.cfg.Replay.BufferAmount().StringFixed(2),
		Agents:       make([]AgentPlan, 0, len(agents)),
	}
	for _, a := range agents {
		rec, ok := reg.Resolve(a.IBAN)
		result.Agents = append(result.Agents, AgentPlan{
			IBAN:         a.IBAN,
			Transactions: a.TransactionCount,
			Provisioned:  ok && rec.Resolvable(),
			Required:     required[a.IBAN].StringFixed(2),
		})
	}

	if opts.Format == "json" {
		return writeJSONData(cmd.OutOrStdout(), result, "")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Plan for %s: %d transactions, %d agents (buffer %s)\n",
		result.Account, result.Transactions, len(result.Agents),
		replay.FormatAmount(app.cfg.Replay.BufferAmount(), app.cfg.Replay.Currency))
	for _, a := range result.Agents {
		status := "new"
		if a.Provisioned {
			status = "provisioned"
		}
		fmt.Fprintf(w, "  %-24s %4d txns  requires %12s %s  [%s]\n",
			a.IBAN, a.Transactions, a.Required, app.cfg.Replay.Currency, status)
	}
	return nil
}
