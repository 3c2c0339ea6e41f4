package interpret

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
	"github.com/nevolodia/bunq-sandman/internal/funding"
)

// Identities creates brand-new sandbox identities. *bunq.Client satisfies it.
type Identities interface {
	CreateSandboxUser(ctx context.Context) (bunq.SandboxUser, error)
}

// Gateway is the remote surface of one authenticated identity.
// *bunq.Client satisfies it.
type Gateway interface {
	CreateMonetaryAccount(ctx context.Context, currency string) (int64, error)
	GetAccount(ctx context.Context, accountID int64) (bunq.MonetaryAccount, error)
	CreatePayment(ctx context.Context, accountID int64, amount bunq.Amount, counterparty bunq.Pointer, description string) (int64, error)
	CreateRequestInquiry(ctx context.Context, accountID int64, amount bunq.Amount, counterparty bunq.Pointer, description string, allowBunqme bool) (int64, error)
	UpdateRequestResponse(ctx context.Context, accountID, responseID int64, status string) error
}

// Dialer returns a Gateway authenticated with the given API key.
type Dialer func(apiKey string) Gateway

// accountRef ties a document-assigned account name to its remote identity.
type accountRef struct {
	apiKey    string
	accountID int64
	alias     bunq.Pointer
	hasAlias  bool
}

// Interpreter executes a workflow document strictly in order on a single
// goroutine. Identifier maps (assigned name to remote id) are built up as
// creation actions succeed; an action referencing a name no prior action
// assigned fails on its own without halting the run.
type Interpreter struct {
	ids     Identities
	dial    Dialer
	sponsor string
	log     *slog.Logger

	users    map[int]string
	accounts map[string]accountRef
}

// New builds an Interpreter. An empty sponsor falls back to the funding
// sponsor address.
func New(ids Identities, dial Dialer, sponsor string, log *slog.Logger) *Interpreter {
	if sponsor == "" {
		sponsor = funding.DefaultSponsorEmail
	}
	if log == nil {
		log = slog.Default()
	}
	return &Interpreter{
		ids:      ids,
		dial:     dial,
		sponsor:  sponsor,
		log:      log,
		users:    make(map[int]string),
		accounts: make(map[string]accountRef),
	}
}

// Run executes the actions and returns the event channel. One event is
// emitted per executed action, in document order; the channel closes when
// the run finishes. Cancellation is honored between actions: the action
// at which the run stops gets a final event carrying the context error,
// and no later action executes.
func (in *Interpreter) Run(ctx context.Context, actions []Action) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		for i, a := range actions {
			if err := ctx.Err(); err != nil {
				events <- Event{Index: i, Type: a.Type, Err: err}
				return
			}

			start := time.Now()
			msg, err := in.execute(ctx, a)
			elapsed := time.Since(start)

			if err != nil {
				in.log.Error("action failed", "index", i, "action", a.Type, "error", err)
			} else {
				in.log.Debug("action done", "index", i, "action", a.Type, "elapsed", elapsed)
			}
			events <- Event{Index: i, Type: a.Type, Message: msg, Elapsed: elapsed, Err: err}
		}
	}()
	return events
}

func (in *Interpreter) execute(ctx context.Context, a Action) (string, error) {
	switch a.Type {
	case ActionCreateUserPerson:
		return in.createUser(ctx, a)
	case ActionCreateMonetaryAccount:
		return in.createAccount(ctx, a)
	case ActionGetAccountOverview:
		return in.accountOverview(ctx, a)
	case ActionMakePayment:
		return in.makePayment(ctx, a)
	case ActionRequestPayment:
		return in.requestPayment(ctx, a)
	case ActionRespondToRequest:
		return in.respondToRequest(ctx, a)
	case ActionWait:
		return in.wait(ctx, a)
	default:
		return "", fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (in *Interpreter) createUser(ctx context.Context, a Action) (string, error) {
	su, err := in.ids.CreateSandboxUser(ctx)
	if err != nil {
		return "", fmt.Errorf("creating user %d: %w", a.UserName, err)
	}
	in.users[a.UserName] = su.APIKey
	return fmt.Sprintf("user %d created", a.UserName), nil
}

func (in *Interpreter) createAccount(ctx context.Context, a Action) (string, error) {
	apiKey, ok := in.users[a.UserName]
	if !ok {
		return "", fmt.Errorf("no user assigned to name %d", a.UserName)
	}
	currency := a.Currency
	if currency == "" {
		currency = "EUR"
	}

	gw := in.dial(apiKey)
	accountID, err := gw.CreateMonetaryAccount(ctx, currency)
	if err != nil {
		return "", fmt.Errorf("creating account %q: %w", a.AccountName, err)
	}

	ref := accountRef{apiKey: apiKey, accountID: accountID}
	acct, err := gw.GetAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("reading back account %q: %w", a.AccountName, err)
	}
	if iban, ok := acct.IBAN(); ok {
		ref.alias = bunq.IBANPointer(iban, a.AccountName)
		ref.hasAlias = true
	}
	in.accounts[a.AccountName] = ref
	return fmt.Sprintf("account %q created", a.AccountName), nil
}

func (in *Interpreter) accountOverview(ctx context.Context, a Action) (string, error) {
	ref, ok := in.accounts[a.AccountName]
	if !ok {
		return "", fmt.Errorf("no account assigned to name %q", a.AccountName)
	}
	acct, err := in.dial(ref.apiKey).GetAccount(ctx, ref.accountID)
	if err != nil {
		return "", fmt.Errorf("reading account %q: %w", a.AccountName, err)
	}
	return fmt.Sprintf("account %q balance %s %s",
		a.AccountName, acct.Balance.Value.StringFixed(2), acct.Balance.Currency), nil
}

func (in *Interpreter) makePayment(ctx context.Context, a Action) (string, error) {
	ref, ok := in.accounts[a.AccountName]
	if !ok {
		return "", fmt.Errorf("no account assigned to name %q", a.AccountName)
	}
	counter, ok := in.accounts[a.Counterparty]
	if !ok {
		return "", fmt.Errorf("no account assigned to name %q", a.Counterparty)
	}
	if !counter.hasAlias {
		return "", fmt.Errorf("account %q has no IBAN alias", a.Counterparty)
	}

	id, err := in.dial(ref.apiKey).CreatePayment(ctx,
		ref.accountID,
		bunq.Amount{Value: a.AmountValue, Currency: a.AmountCurrency},
		counter.alias,
		describeOr(a.Description),
	)
	if err != nil {
		return "", fmt.Errorf("payment from %q to %q: %w", a.AccountName, a.Counterparty, err)
	}
	return fmt.Sprintf("payment %d created", id), nil
}

func (in *Interpreter) requestPayment(ctx context.Context, a Action) (string, error) {
	ref, ok := in.accounts[a.AccountName]
	if !ok {
		return "", fmt.Errorf("no account assigned to name %q", a.AccountName)
	}

	counterparty := bunq.EmailPointer(in.sponsor, in.sponsor)
	if !isSponsor(a.Counterparty) {
		counter, ok := in.accounts[a.Counterparty]
		if !ok {
			return "", fmt.Errorf("no account assigned to name %q", a.Counterparty)
		}
		if !counter.hasAlias {
			return "", fmt.Errorf("account %q has no IBAN alias", a.Counterparty)
		}
		counterparty = counter.alias
	}

	id, err := in.dial(ref.apiKey).CreateRequestInquiry(ctx,
		ref.accountID,
		bunq.Amount{Value: a.AmountValue, Currency: a.AmountCurrency},
		counterparty,
		describeOr(a.Description),
		true,
	)
	if err != nil {
		return "", fmt.Errorf("payment request from %q: %w", a.AccountName, err)
	}
	return fmt.Sprintf("payment request %d created", id), nil
}

func (in *Interpreter) respondToRequest(ctx context.Context, a Action) (string, error) {
	ref, ok := in.accounts[a.AccountName]
	if !ok {
		return "", fmt.Errorf("no account assigned to name %q", a.AccountName)
	}
	if err := in.dial(ref.apiKey).UpdateRequestResponse(ctx, ref.accountID, a.RequestID, a.Status); err != nil {
		return "", fmt.Errorf("responding to request %d: %w", a.RequestID, err)
	}
	return fmt.Sprintf("request %d %s", a.RequestID, a.Status), nil
}

func (in *Interpreter) wait(ctx context.Context, a Action) (string, error) {
	d := time.Duration(a.Seconds * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return fmt.Sprintf("waited %s", d), nil
	}
}

func describeOr(s string) string {
	if s == "" {
		return "No description"
	}
	return s
}

func isSponsor(name string) bool {
	return strings.EqualFold(name, SponsorCounterparty)
}
