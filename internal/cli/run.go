package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/agent"
	"github.com/nevolodia/bunq-sandman/internal/funding"
	"github.com/nevolodia/bunq-sandman/internal/registry"
	"github.com/nevolodia/bunq-sandman/internal/replay"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Concurrency int
}

// RunPhase summarizes one pipeline phase in run output.
type RunPhase struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RunResult holds the run command output.
type RunResult struct {
	Account   string   `json:"account"`
	Agents    int      `json:"agents"`
	Provision RunPhase `json:"provision"`
	Funding   RunPhase `json:"funding"`
	Replay    RunPhase `json:"replay"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: provision, fund, replay",
		Long: `Run the full pipeline against the sandbox.

The primary user's history is fetched once, then three phases run in
order: every counterparty gets a synthetic identity, every identity is
funded with enough balance to survive the history, and the history is
replayed between the identities oldest first. All three phases record
their outcomes under a single journal run token.

Every phase is idempotent, so an interrupted run can simply be started
again. Ctrl-C stops the pipeline between operations; the in-flight
sandbox call is always allowed to finish.

Exit codes:
  0 - pipeline complete, every transaction replayed
  1 - one or more items failed or were skipped in any phase
  2 - command error (config, credentials, storage)

Examples:
  sandman run
  sandman run --concurrency 8 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "max concurrent provisioning workers")

	return cmd
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			app.log.Info("received signal, stopping pipeline", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

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

	j, err := app.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	runToken, err := j.BeginRun(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to begin journal run", err)
	}
	app.log.Info("pipeline starting",
		"run", runToken, "transactions", len(txns), "agents", len(agents))

	// Phase 1: provision.
	ibans := make([]string, 0, len(agents))
	for _, a := range agents {
		ibans = append(ibans, a.IBAN)
	}
	provReport := reg.ProvisionAll(ctx, ibans, opts.Concurrency)
	if err := j.RecordProvisioning(ctx, runToken, provReport); err != nil {
		return WrapExitError(ExitCommandError, "failed to journal provisioning outcomes", err)
	}

	// Phase 2: fund.
	required := funding.Compute(txns, agent.IBANs(agents), app.cfg.Replay.BufferAmount(), app.log)
	funder := funding.NewFunder(reg,
		func(apiKey string) funding.Requester { return app.client(apiKey) },
		app.cfg.Replay.SponsorEmail, app.cfg.Replay.Currency, app.log)
	fundReport := funder.Fund(ctx, required)
	if err := j.RecordFunding(ctx, runToken, fundReport); err != nil {
		return WrapExitError(ExitCommandError, "failed to journal funding outcomes", err)
	}

	// Phase 3: replay.
	scheduler := replay.NewScheduler(primary, reg,
		func(apiKey string) replay.Gateway { return app.client(apiKey) }, app.log)
	replayReport := scheduler.Run(ctx, txns)
	if err := j.RecordReplay(ctx, runToken, replayReport); err != nil {
		return WrapExitError(ExitCommandError, "failed to journal replay outcomes", err)
	}

	result := RunResult{
		Account:   primary.OriginalIBAN,
		Agents:    len(agents),
		Provision: provisionPhase(provReport),
		Funding:   fundingPhase(fundReport),
		Replay:    replayPhase(replayReport),
	}
	return outputRun(cmd, opts.Format, result, replayReport, runToken)
}

func provisionPhase(r registry.ProvisionReport) RunPhase {
	return RunPhase{Success: len(r.Success), Failed: len(r.Failed), Skipped: len(r.Skipped)}
}

func fundingPhase(r funding.Report) RunPhase {
	return RunPhase{Success: len(r.Success), Failed: len(r.Failed), Skipped: len(r.Skipped)}
}

func replayPhase(r replay.Report) RunPhase {
	return RunPhase{Success: len(r.Replayed), Failed: len(r.Failed), Skipped: len(r.Skipped)}
}

func outputRun(cmd *cobra.Command, format string, result RunResult, replayReport replay.Report, runToken string) error {
	incomplete := result.Provision.Failed + result.Funding.Failed +
		result.Replay.Failed + result.Replay.Skipped

	if format == "json" {
		resp := CLIResponse{Status: "ok", Data: result, Run: runToken}
		if incomplete > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeRemote,
				Message: fmt.Sprintf("%d items failed or were skipped", incomplete),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if incomplete > 0 {
			return NewExitError(ExitFailure, "pipeline incomplete")
		}
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Pipeline run %s for %s: %d agents\n", runToken, result.Account, result.Agents)
	fmt.Fprintf(w, "  provision: %d ok, %d failed, %d skipped\n",
		result.Provision.Success, result.Provision.Failed, result.Provision.Skipped)
	fmt.Fprintf(w, "  funding:   %d ok, %d failed, %d skipped\n",
		result.Funding.Success, result.Funding.Failed, result.Funding.Skipped)
	fmt.Fprintf(w, "  replay:    %d ok, %d failed, %d skipped\n",
		result.Replay.Success, result.Replay.Failed, result.Replay.Skipped)
	fmt.Fprintln(w)
	fmt.Fprint(w, replay.Render(replayReport))

	if incomplete > 0 {
		return NewExitError(ExitFailure, "pipeline incomplete")
	}
	return nil
}
