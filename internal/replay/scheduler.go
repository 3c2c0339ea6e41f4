// Package replay re-issues a user's historical transactions between the
// synthetic identities provisioned for them.
//
// Every transaction reaches exactly one terminal state:
//
//   - Replayed: the remote call succeeded and a new remote id was recorded,
//   - Skipped: an endpoint could not be resolved to a synthetic identity,
//   - Failed: the remote call was attempted and rejected.
//
// A failure or skip never aborts the run; the report partitions the full
// input set.
package replay

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
	"github.com/nevolodia/bunq-sandman/internal/registry"
	"github.com/nevolodia/bunq-sandman/internal/txn"
)

// descriptionPrefix marks replayed transactions so they are recognizable
// (and excludable) in subsequent fetches of the synthetic accounts.
const descriptionPrefix = "Replay: "

// Gateway issues transactions on behalf of one authenticated identity.
// *bunq.Client satisfies it.
type Gateway interface {
	CreatePayment(ctx context.Context, accountID int64, amount bunq.Amount, counterparty bunq.Pointer, description string) (int64, error)
	CreateRequestInquiry(ctx context.Context, accountID int64, amount bunq.Amount, counterparty bunq.Pointer, description string, allowBunqme bool) (int64, error)
}

// Dialer returns a Gateway authenticated with the given API key. The
// scheduler always dials the sender's credentials, never the recipient's.
type Dialer func(apiKey string) Gateway

// Resolver looks up provisioned identities. *registry.Registry satisfies it.
type Resolver interface {
	Resolve(iban string) (registry.Record, bool)
}

// Outcome records the terminal state of one historical transaction.
type Outcome struct {
	OriginalID int64
	NewID      int64
	Kind       txn.Kind
	Amount     decimal.Decimal
	Currency   string
	From       string
	To         string
	Reason     string
}

// Report partitions a replay run. Replayed+Failed+Skipped covers every
// input transaction exactly once.
type Report struct {
	Replayed []Outcome
	Failed   []Outcome
	Skipped  []Outcome
}

// Total returns the number of transactions the run accounted for.
func (r Report) Total() int {
	return len(r.Replayed) + len(r.Failed) + len(r.Skipped)
}

// Scheduler replays transactions oldest first. Direction is derived per
// transaction:
//
//   - a negative payment is re-sent from the primary identity to the agent,
//   - a non-negative payment is re-sent from the agent to the primary,
//   - a request is re-issued by the agent against the primary, whatever
//     its original status.
//
// Amounts are always sent as magnitudes; the historical sign only picks
// the direction.
type Scheduler struct {
	primary  registry.Record
	resolver Resolver
	dial     Dialer
	log      *slog.Logger
}

// NewScheduler builds a Scheduler. primary is the registry record of the
// user whose history is being replayed; its credentials are used whenever
// the primary side sends.
func NewScheduler(primary registry.Record, resolver Resolver, dial Dialer, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{primary: primary, resolver: resolver, dial: dial, log: log}
}

// Run replays every transaction and returns the partitioned report.
// Cancellation is honored between transactions only; an in-flight remote
// call is a single atomic operation and is never abandoned half-way.
func (s *Scheduler) Run(ctx context.Context, txns []txn.Transaction) Report {
	ordered := make([]txn.Transaction, len(txns))
	copy(ordered, txns)
	txn.SortAscending(ordered)

	var report Report
	for _, t := range ordered {
		out, state := s.replayOne(ctx, t)
		switch state {
		case stateReplayed:
			report.Replayed = append(report.Replayed, out)
		case stateSkipped:
			report.Skipped = append(report.Skipped, out)
		default:
			report.Failed = append(report.Failed, out)
		}
	}

	s.log.Info("replay complete",
		"total", report.Total(),
		"replayed", len(report.Replayed),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
	)
	return report
}

// Skip reasons. Anything else in Outcome.Reason is a remote failure.
const (
	reasonCancelled     = "run cancelled"
	reasonNoIdentifier  = "no counterparty identifier"
	reasonNotInRegistry = "identity not provisioned"
	reasonNoAlias       = "identity missing synthetic alias"
)

type state int

const (
	stateReplayed state = iota
	stateSkipped
	stateFailed
)

func (s *Scheduler) replayOne(ctx context.Context, t txn.Transaction) (Outcome, state) {
	out := Outcome{
		OriginalID: t.ID,
		Kind:       t.Kind,
		Amount:     t.Amount.Abs(),
		Currency:   t.Currency,
	}

	if ctx.Err() != nil {
		out.Reason = reasonCancelled
		return out, stateSkipped
	}
	if t.CounterpartyIBAN == "" {
		out.Reason = reasonNoIdentifier
		return out, stateSkipped
	}

	rec, ok := s.resolver.Resolve(t.CounterpartyIBAN)
	if !ok {
		out.From = t.CounterpartyIBAN
		out.Reason = reasonNotInRegistry
		return out, stateSkipped
	}
	if !rec.Resolvable() {
		out.From = t.CounterpartyIBAN
		out.Reason = reasonNoAlias
		return out, stateSkipped
	}

	amount := bunq.Amount{Value: t.Amount.Abs(), Currency: t.Currency}
	description := descriptionPrefix + t.Description

	var (
		newID int64
		err   error
	)
	switch {
	case t.Kind == txn.KindPayment && t.Amount.IsNegative():
		// The primary user originally paid this agent.
		out.From, out.To = s.primary.SyntheticIBAN, rec.SyntheticIBAN
		newID, err = s.dial(s.primary.APIKey).CreatePayment(ctx,
			s.primary.AccountID, amount,
			bunq.IBANPointer(rec.SyntheticIBAN, rec.OriginalIBAN),
			description)

	case t.Kind == txn.KindPayment:
		// The agent originally paid the primary user.
		out.From, out.To = rec.SyntheticIBAN, s.primary.SyntheticIBAN
		newID, err = s.dial(rec.APIKey).CreatePayment(ctx,
			rec.AccountID, amount,
			bunq.IBANPointer(s.primary.SyntheticIBAN, s.primary.OriginalIBAN),
			description)

	default:
		// Requests keep their original direction: the agent asks the
		// primary user for money.
		out.From, out.To = rec.SyntheticIBAN, s.primary.SyntheticIBAN
		newID, err = s.dial(rec.APIKey).CreateRequestInquiry(ctx,
			rec.AccountID, amount,
			bunq.IBANPointer(s.primary.SyntheticIBAN, s.primary.OriginalIBAN),
			description, true)
	}

	if err != nil {
		s.log.Error("replay failed",
			"transaction_id", t.ID, "kind", t.Kind, "error", err)
		out.Reason = err.Error()
		return out, stateFailed
	}

	s.log.Debug("transaction replayed",
		"transaction_id", t.ID, "new_id", newID, "kind", t.Kind,
		"amount", amount.Value.StringFixed(2))
	out.NewID = newID
	return out, stateReplayed
}
