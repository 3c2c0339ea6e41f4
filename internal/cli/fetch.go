package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/txn"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
}

// FetchTransaction is one history entry in fetch output.
type FetchTransaction struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	Created      string `json:"created"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Counterparty string `json:"counterparty,omitempty"`
	Status       string `json:"status,omitempty"`
	Description  string `json:"description,omitempty"`
}

// FetchResult holds the fetch command output.
type FetchResult struct {
	Account      string             `json:"account"`
	Total        int                `json:"total"`
	Payments     int                `json:"payments"`
	Requests     int                `json:"requests"`
	Transactions []FetchTransaction `json:"transactions"`
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the primary user's transaction history",
		Long: `Fetch the primary user's full transaction history from the sandbox.

Payments and request inquiries are fetched through pagination until
exhausted, merged, and listed newest first. Nothing is persisted; this
command is a read-only preview of what the other commands will work with.

Examples:
  sandman fetch
  sandman fetch --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(opts, cmd)
		},
	}

	return cmd
}

func runFetch(opts *FetchOptions, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	primary, txns, err := app.fetchHistory(ctx)
	if err != nil {
		return err
	}

	result := FetchResult{
		Account:      primary.OriginalIBAN,
		Total:        len(txns),
		Transactions: make([]FetchTransaction, 0, len(txns)),
	}
	for _, t := range txns {
		if t.Kind == txn.KindPayment {
			result.Payments++
		} else {
			result.Requests++
		}
		result.Transactions = append(result.Transactions, FetchTransaction{
			ID:           t.ID,
			Kind:         string(t.Kind),
			Created:      t.Created.UTC().Format(time.RFC3339),
			Amount:       t.Amount.StringFixed(2),
			Currency:     t.Currency,
			Counterparty: t.CounterpartyIBAN,
			Status:       t.Status,
			Description:  t.Description,
		})
	}

	if opts.Format == "json" {
		return writeJSONData(cmd.OutOrStdout(), result, "")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Fetched %d transactions for %s (%d payments, %d requests)\n",
		result.Total, result.Account, result.Payments, result.Requests)
	for _, t := range result.Transactions {
		fmt.Fprintf(w, "  #%-6d %-7s %s  %12s %s", t.ID, t.Kind, t.Created, t.Amount, t.Currency)
		if t.Counterparty != "" {
			fmt.Fprintf(w, "  %s", t.Counterparty)
		}
		if t.Status != "" {
			fmt.Fprintf(w, "  [%s]", t.Status)
		}
		fmt.Fprintln(w)
	}
	return nil
}
