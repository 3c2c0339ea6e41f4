package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/interpret"
)

// InterpretOptions holds flags for the interpret command.
type InterpretOptions struct {
	*RootOptions
}

// InterpretEvent is one executed action in interpret output.
type InterpretEvent struct {
	Index     int    `json:"index"`
	Type      string `json:"action_type"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// InterpretResult holds the interpret command output.
type InterpretResult struct {
	Actions int              `json:"actions"`
	Errors  int              `json:"errors"`
	Events  []InterpretEvent `json:"events"`
}

// NewInterpretCommand creates the interpret command.
func NewInterpretCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InterpretOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "interpret <actions-file>",
		Short: "Execute a JSON action document against the sandbox",
		Long: `Execute a declarative JSON action document against the sandbox.

The document is a list of actions (CreateUserPerson, CreateMonetaryAccount,
GetAccountOverview, MakePayment, RequestPayment, RespondToRequest, Wait).
It is validated wholesale before anything runs: a known action with
malformed fields rejects the whole document. Actions with an unknown
action_type pass validation and fail individually at runtime, so new
vocabulary in a document degrades one action at a time.

Exit codes:
  0 - every action executed
  1 - one or more actions failed at runtime
  2 - command error (unreadable file, document rejected by schema)

Examples:
  sandman interpret actions.json
  sandman interpret actions.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterpret(opts, args[0], cmd)
		},
	}

	return cmd
}

func runInterpret(opts *InterpretOptions, path string, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read action document %s", path), err)
	}

	actions, err := interpret.ParseActions(data)
	if err != nil {
		var schemaErr *interpret.SchemaError
		if errors.As(err, &schemaErr) {
			return WrapExitError(ExitCommandError, "action document rejected", err)
		}
		return WrapExitError(ExitCommandError, "failed to parse action document", err)
	}

	in := interpret.New(app.client(""),
		func(apiKey string) interpret.Gateway { return app.client(apiKey) },
		app.cfg.Replay.SponsorEmail, app.log)

	w := cmd.OutOrStdout()
	result := InterpretResult{Actions: len(actions), Events: make([]InterpretEvent, 0, len(actions))}
	for ev := range in.Run(ctx, actions) {
		e := InterpretEvent{
			Index:     ev.Index,
			Type:      ev.Type,
			Message:   ev.Message,
			ElapsedMs: ev.Elapsed.Milliseconds(),
		}
		if !ev.OK() {
			e.Error = ev.Err.Error()
			result.Errors++
		}
		result.Events = append(result.Events, e)

		// Text mode streams as actions execute; JSON is emitted at the end.
		if opts.Format != "json" {
			if ev.OK() {
				fmt.Fprintf(w, "  [%d] %-21s ok    %s\n", ev.Index, ev.Type, ev.Message)
			} else {
				fmt.Fprintf(w, "  [%d] %-21s error %v\n", ev.Index, ev.Type, ev.Err)
			}
		}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Errors > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeRemote,
				Message: fmt.Sprintf("%d actions failed", result.Errors),
			}
		}
		if err := writeJSON(w, resp); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "Executed %d actions, %d failed\n", result.Actions, result.Errors)
	}

	if result.Errors > 0 {
		return NewExitError(ExitFailure, "action document executed with errors")
	}
	return nil
}
