package funding

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
	"github.com/nevolodia/bunq-sandman/internal/registry"
)

// DefaultSponsorEmail is the sandbox account that grants balance top-ups
// when a payment request lands in its inbox.
const DefaultSponsorEmail = "sugardaddy@bunq.com"

// Requester issues payment requests on behalf of one synthetic identity.
type Requester interface {
	CreateRequestInquiry(ctx context.Context, accountID int64, amount bunq.Amount, counterparty bunq.Pointer, description string, allowBunqme bool) (int64, error)
}

// Dialer returns a Requester authenticated with the given API key.
type Dialer func(apiKey string) Requester

// Resolver looks up provisioned identities. *registry.Registry satisfies it.
type Resolver interface {
	Resolve(iban string) (registry.Record, bool)
}

// Outcome records what happened to one agent during funding.
type Outcome struct {
	IBAN   string
	Amount decimal.Decimal
	Reason string
}

// Report partitions the funded agent set. Every agent passed to Fund
// appears in exactly one of the three lists.
type Report struct {
	Success []Outcome
	Failed  []Outcome
	Skipped []Outcome
}

// Funder tops up synthetic identities by issuing payment requests to the
// sponsor account from each identity's own primary monetary account.
type Funder struct {
	resolver Resolver
	dial     Dialer
	sponsor  string
	currency string
	log      *slog.Logger
}

// NewFunder builds a Funder. An empty sponsor falls back to
// DefaultSponsorEmail; an empty currency falls back to EUR.
func NewFunder(resolver Resolver, dial Dialer, sponsor, currency string, log *slog.Logger) *Funder {
	if sponsor == "" {
		sponsor = DefaultSponsorEmail
	}
	if currency == "" {
		currency = "EUR"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Funder{resolver: resolver, dial: dial, sponsor: sponsor, currency: currency, log: log}
}

// Fund requests the given balance for every agent in required.
//
// Agents whose requirement is zero or negative, and agents with no
// provisioned identity in the registry, are skipped rather than failed:
// neither condition is a remote fault, and a partially provisioned run
// should still fund whatever it can. Request failures are recorded and
// the remaining agents are still attempted.
func (f *Funder) Fund(ctx context.Context, required Requirements) Report {
	var report Report

	for _, iban := range sortedKeys(required) {
		amount := required[iban]
		if ctx.Err() != nil {
			report.Skipped = append(report.Skipped, Outcome{IBAN: iban, Amount: amount, Reason: "run cancelled"})
			continue
		}
		if amount.Sign() <= 0 {
			report.Skipped = append(report.Skipped, Outcome{IBAN: iban, Amount: amount, Reason: "nothing to fund"})
			continue
		}

		rec, ok := f.resolver.Resolve(iban)
		if !ok || !rec.Resolvable() {
			f.log.Warn("agent has no provisioned identity, skipping funding", "iban", iban)
			report.Skipped = append(report.Skipped, Outcome{IBAN: iban, Amount: amount, Reason: "identity not provisioned"})
			continue
		}

		id, err := f.dial(rec.APIKey).CreateRequestInquiry(ctx,
			rec.AccountID,
			bunq.Amount{Value: amount, Currency: f.currency},
			bunq.EmailPointer(f.sponsor, "Sugar Daddy"),
			fmt.Sprintf("Initial balance for %s", iban),
			true,
		)
		if err != nil {
			f.log.Error("funding request failed", "iban", iban, "amount", amount.StringFixed(2), "error", err)
			report.Failed = append(report.Failed, Outcome{IBAN: iban, Amount: amount, Reason: err.Error()})
			continue
		}

		f.log.Info("funding requested",
			"iban", iban,
			"amount", amount.StringFixed(2),
			"request_id", id,
		)
		report.Success = append(report.Success, Outcome{IBAN: iban, Amount: amount})
	}

	f.log.Info("funding complete",
		"funded", len(report.Success),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
	)
	return report
}

func sortedKeys(required Requirements) []string {
	keys := make([]string, 0, len(required))
	for iban := range required {
		keys = append(keys, iban)
	}
	sort.Strings(keys)
	return keys
}
