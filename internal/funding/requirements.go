// Package funding computes how much each agent must hold before replay,
// and requests those initial balances from the sponsor account.
//
// # Sign convention
//
// Historical amounts are signed from the primary user's perspective, but
// the simulation tracks each agent's side of the flow and consumes
// magnitudes only:
//
//   - a Payment credits the agent with |amount| (the agent was party to a
//     transfer and must have been able to cover its side),
//   - an accepted Request debits the agent by |amount| (the agent conceded
//     funds when the request against it was accepted),
//   - any other request leaves the balance unchanged.
//
// Replay direction is derived independently from the stored sign (see the
// replay package); the two phases deliberately do not share a convention,
// and the magnitude rule here is the conservative one: it never
// underestimates the funding an agent needs.
package funding

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/nevolodia/bunq-sandman/internal/txn"
)

// Requirements maps each agent IBAN to the minimum balance it must be
// funded with before replay. Values are always >= buffer.
type Requirements map[string]decimal.Decimal

// Compute simulates every agent's chronological cash flow and returns the
// minimum initial balance per agent: max(0, -running minimum) + buffer.
//
// The buffer is added unconditionally, including for agents whose balance
// never dips negative. Transactions whose IBAN is not in the agent set
// are ignored. The function is total: any finite transaction slice yields
// a complete result.
//
// Funding an agent with its computed requirement guarantees the identical
// event sequence never drives its balance negative.
func Compute(txns []txn.Transaction, ibans map[string]struct{}, buffer decimal.Decimal, log *slog.Logger) Requirements {
	if log == nil {
		log = slog.Default()
	}
	if buffer.IsNegative() {
		buffer = decimal.Zero
	}

	balances := make(map[string]decimal.Decimal, len(ibans))
	minimums := make(map[string]decimal.Decimal, len(ibans))
	for iban := range ibans {
		balances[iban] = decimal.Zero
		minimums[iban] = decimal.Zero
	}

	ordered := make([]txn.Transaction, len(txns))
	copy(ordered, txns)
	txn.SortAscending(ordered)

	for _, t := range ordered {
		iban := t.CounterpartyIBAN
		if _, ok := balances[iban]; !ok {
			if iban != "" {
				log.Debug("transaction references unknown agent, ignored",
					"transaction_id", t.ID, "iban", iban)
			}
			continue
		}

		switch {
		case t.Kind == txn.KindPayment:
			balances[iban] = balances[iban].Add(t.Amount.Abs())
		case t.IsAcceptedRequest():
			balances[iban] = balances[iban].Sub(t.Amount.Abs())
		default:
			continue // pending/rejected requests never moved money
		}

		if balances[iban].LessThan(minimums[iban]) {
			minimums[iban] = balances[iban]
		}
	}

	required := make(Requirements, len(ibans))
	for iban, minimum := range minimums {
		need := buffer
		if minimum.IsNegative() {
			need = minimum.Neg().Add(buffer)
		}
		required[iban] = need
	}

	log.Info("funding requirements computed",
		"agents", len(required),
		"buffer", buffer.StringFixed(2),
	)
	return required
}
