package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/agent"
	"github.com/nevolodia/bunq-sandman/internal/registry"
)

// ProvisionOptions holds flags for the provision command.
type ProvisionOptions struct {
	*RootOptions
	Concurrency int
}

// ProvisionResult holds the provision command output.
type ProvisionResult struct {
	Account string                   `json:"account"`
	Agents  int                      `json:"agents"`
	Report  registry.ProvisionReport `json:"report"`
}

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProvisionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a synthetic identity per counterparty",
		Long: `Provision one sandbox identity for every distinct counterparty in the
primary user's history.

Provisioning is idempotent: counterparties that already have a resolvable
identity in the pair store are skipped, and a crashed run resumes where it
left off. One identity failing never aborts the others.

Exit codes:
  0 - every counterparty resolvable
  1 - one or more counterparties failed to provision
  2 - command error (config, credentials, storage)

Examples:
  sandman provision
  sandman provision --concurrency 8 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "max concurrent provisioning workers")

	return cmd
}

func runProvision(opts *ProvisionOptions, cmd *cobra.Command) error {
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

	reg, err := app.openRegistry(primary.OriginalIBAN)
	if err != nil {
		return err
	}
	if err := reg.SeedPrimary(primary); err != nil {
		return WrapExitError(ExitCommandError, "failed to record primary identity", err)
	}

	ibans := make([]string, 0, len(agents))
	for _, a := range agents {
		ibans = append(ibans, a.IBAN)
	}
	report := reg.ProvisionAll(ctx, ibans, opts.Concurrency)

	j, err := app.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	runToken, err := j.BeginRun(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to begin journal run", err)
	}
	if err := j.RecordProvisioning(ctx, runToken, report); err != nil {
		return WrapExitError(ExitCommandError, "failed to journal provisioning outcomes", err)
	}

	result := ProvisionResult{Account: primary.OriginalIBAN, Agents: len(agents), Report: report}
	return outputProvision(cmd, opts.Format, result, runToken)
}

func outputProvision(cmd *cobra.Command, format string, result ProvisionResult, runToken string) error {
	failed := len(result.Report.Failed)

	if format == "json" {
		resp := CLIResponse{Status: "ok", Data: result, Run: runToken}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeRemote,
				Message: fmt.Sprintf("%d identities failed to provision", failed),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if failed > 0 {
			return NewExitError(ExitFailure, "provisioning incomplete")
		}
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Provisioning run %s: %d agents (%d provisioned, %d failed, %d skipped)\n",
		runToken, result.Agents,
		len(result.Report.Success), failed, len(result.Report.Skipped))
	for _, o := range result.Report.Success {
		fmt.Fprintf(w, "  + %-24s -> %s\n", o.IBAN, o.SyntheticIBAN)
	}
	for _, o := range result.Report.Skipped {
		fmt.Fprintf(w, "  = %-24s %s\n", o.IBAN, o.Reason)
	}
	for _, o := range result.Report.Failed {
		fmt.Fprintf(w, "  ! %-24s %s\n", o.IBAN, o.Reason)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, "provisioning incomplete")
	}
	return nil
}
