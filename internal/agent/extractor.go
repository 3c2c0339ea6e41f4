// Package agent extracts the distinct counterparties ("agents") from a
// transaction history. One agent exists per counterparty IBAN; the set is
// recomputed per run and never persisted.
package agent

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nevolodia/bunq-sandman/internal/txn"
)

// Agent aggregates everything known about one counterparty.
type Agent struct {
	IBAN             string          `json:"iban"`
	TransactionCount int             `json:"transaction_count"`
	TransactionIDs   []int64         `json:"transaction_ids"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	FirstSeen        time.Time       `json:"first_seen"`
	LastSeen         time.Time       `json:"last_seen"`
}

// Extract deduplicates counterparties by IBAN and aggregates per-agent
// statistics. Transactions without a counterparty IBAN are dropped with a
// log line and excluded from all downstream processing.
//
// Aggregation is order-independent: the same transaction set always
// produces the same agent set regardless of input order. The returned
// slice is sorted by transaction count (descending, IBAN as tiebreak) for
// presentation; callers must not rely on list order, only on membership
// and per-agent fields.
func Extract(txns []txn.Transaction, log *slog.Logger) []Agent {
	if log == nil {
		log = slog.Default()
	}

	byIBAN := make(map[string]*Agent)
	for _, t := range txns {
		if t.CounterpartyIBAN == "" {
			log.Warn("dropping transaction without counterparty IBAN",
				"transaction_id", t.ID,
				"kind", t.Kind,
			)
			continue
		}

		a, ok := byIBAN[t.CounterpartyIBAN]
		if !ok {
			a = &Agent{IBAN: t.CounterpartyIBAN, FirstSeen: t.Created, LastSeen: t.Created}
			byIBAN[t.CounterpartyIBAN] = a
		}

		a.TransactionCount++
		a.TransactionIDs = append(a.TransactionIDs, t.ID)
		a.TotalAmount = a.TotalAmount.Add(t.Amount)
		if t.Created.Before(a.FirstSeen) {
			a.FirstSeen = t.Created
		}
		if t.Created.After(a.LastSeen) {
			a.LastSeen = t.Created
		}
	}

	agents := make([]Agent, 0, len(byIBAN))
	for _, a := range byIBAN {
		// Transaction ids are kept in a deterministic order so two runs
		// over the same history compare equal field by field.
		sort.Slice(a.TransactionIDs, func(i, j int) bool { return a.TransactionIDs[i] < a.TransactionIDs[j] })
		agents = append(agents, *a)
	}

	sort.Slice(agents, func(i, j int) bool {
		if agents[i].TransactionCount != agents[j].TransactionCount {
			return agents[i].TransactionCount > agents[j].TransactionCount
		}
		return agents[i].IBAN < agents[j].IBAN
	})

	return agents
}

// IBANs returns the set of agent identifiers as a lookup map.
func IBANs(agents []Agent) map[string]struct{} {
	set := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		set[a.IBAN] = struct{}{}
	}
	return set
}
