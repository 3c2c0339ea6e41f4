package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
	"github.com/nevolodia/bunq-sandman/internal/config"
	"github.com/nevolodia/bunq-sandman/internal/journal"
	"github.com/nevolodia/bunq-sandman/internal/pairstore"
	"github.com/nevolodia/bunq-sandman/internal/registry"
	"github.com/nevolodia/bunq-sandman/internal/txn"
)

// app carries the loaded configuration and shared wiring for one command
// invocation.
type app struct {
	cfg config.Config
	log *slog.Logger
}

func newApp(opts *RootOptions) (*app, error) {
	log := setupLogging(opts.Verbose)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return &app{cfg: cfg, log: log}, nil
}

// commandContext returns the command's context, falling back to
// context.Background when the command was invoked without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// setupLogging configures the default slog logger. Logs go to stderr so
// JSON output on stdout stays machine-readable.
func setupLogging(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// client builds a sandbox client for the given API key. An empty key
// yields an unauthenticated client, which can still create sandbox users.
func (a *app) client(apiKey string) *bunq.Client {
	return bunq.NewClient(a.cfg.API.BaseURL, apiKey,
		bunq.WithCallDelay(a.cfg.API.CallDelay.Std()),
		bunq.WithRetryPolicy(a.cfg.API.RetryPolicy()),
		bunq.WithLogger(a.log),
	)
}

// primaryClient returns a client authenticated as the primary user.
func (a *app) primaryClient() (*bunq.Client, error) {
	if a.cfg.API.APIKey == "" {
		return nil, NewExitError(ExitCommandError,
			"primary API key required: set api.api_key in the config file or "+config.APIKeyEnv)
	}
	return a.client(a.cfg.API.APIKey), nil
}

// primaryIdentity resolves the primary user's own account into a registry
// record. During replay the primary acts as itself, so its synthetic
// identifier is its real one.
func (a *app) primaryIdentity(ctx context.Context) (registry.Record, error) {
	client, err := a.primaryClient()
	if err != nil {
		return registry.Record{}, err
	}

	userID, err := client.UserID(ctx)
	if err != nil {
		return registry.Record{}, WrapExitError(ExitCommandError, "failed to resolve primary user", err)
	}
	acct, err := client.PrimaryAccount(ctx)
	if err != nil {
		return registry.Record{}, WrapExitError(ExitCommandError, "failed to resolve primary account", err)
	}
	iban, ok := acct.IBAN()
	if !ok {
		return registry.Record{}, NewExitError(ExitCommandError, "primary account has no IBAN alias")
	}

	return registry.Record{
		OriginalIBAN:  iban,
		APIKey:        a.cfg.API.APIKey,
		UserID:        userID,
		AccountID:     acct.ID,
		SyntheticIBAN: iban,
		IsPrimaryUser: true,
	}, nil
}

// fetchHistory loads the primary user's full transaction history.
func (a *app) fetchHistory(ctx context.Context) (registry.Record, []txn.Transaction, error) {
	primary, err := a.primaryIdentity(ctx)
	if err != nil {
		return registry.Record{}, nil, err
	}

	fetcher := txn.NewFetcher(a.client(primary.APIKey), primary.AccountID, a.log)
	txns, err := fetcher.FetchAll(ctx)
	if err != nil {
		return registry.Record{}, nil, WrapExitError(ExitCommandError, "failed to fetch transaction history", err)
	}
	return primary, txns, nil
}

// openRegistry opens the pair store and wraps it in a registry. A .bak
// snapshot of the pair file is taken if one doesn't exist yet.
func (a *app) openRegistry(primaryIBAN string) (*registry.Registry, error) {
	if err := os.MkdirAll(a.cfg.Storage.DataDir, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}

	store, err := pairstore.Open[registry.Record](a.cfg.Storage.PairFile())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open pair store", err)
	}

	dial := func(apiKey string) registry.AccountReader { return a.client(apiKey) }
	reg := registry.New(store, a.client(""), dial, primaryIBAN, a.log)
	reg.SetRetryPolicy(a.cfg.API.RetryPolicy())

	if err := reg.Snapshot(); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to snapshot pair store", err)
	}
	return reg, nil
}

// openJournal opens the run journal.
func (a *app) openJournal() (*journal.Journal, error) {
	if err := os.MkdirAll(a.cfg.Storage.DataDir, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}
	j, err := journal.Open(a.cfg.Storage.JournalFile())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open run journal", err)
	}
	return j, nil
}
