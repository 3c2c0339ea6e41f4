// Package txn defines the transaction model and the paginated history
// fetcher. A Transaction is immutable once fetched; everything downstream
// (agent extraction, funding simulation, replay) consumes the same slice.
package txn

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes payments from payment requests.
type Kind string

const (
	// KindPayment is a settled payment on the primary account.
	KindPayment Kind = "PAYMENT"
	// KindRequest is a payment request (request inquiry) issued by the
	// primary account.
	KindRequest Kind = "REQUEST"
)

// Request statuses carried on KindRequest transactions.
const (
	StatusPending  = "PENDING"
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// Transaction is one historical payment or request, normalized from the
// sandbox wire format. Amounts are signed from the primary user's
// perspective: a negative payment means the primary user paid the
// counterparty.
type Transaction struct {
	Kind             Kind            `json:"kind"`
	ID               int64           `json:"id"`
	Created          time.Time       `json:"created"`
	Updated          time.Time       `json:"updated"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Description      string          `json:"description"`
	CounterpartyIBAN string          `json:"counterparty_iban"`
	Status           string          `json:"status,omitempty"` // requests only
}

// IsAcceptedRequest reports whether this is a request the counterparty
// accepted (and therefore paid).
func (t Transaction) IsAcceptedRequest() bool {
	return t.Kind == KindRequest && t.Status == StatusAccepted
}

// SortAscending orders transactions oldest first. The sort is stable:
// ties on the creation timestamp keep their insertion order, which keeps
// funding simulation and replay processing identical run to run.
func SortAscending(txns []Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Created.Before(txns[j].Created)
	})
}

// SortDescending orders transactions newest first, the order the
// fetcher reports them in.
func SortDescending(txns []Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Created.After(txns[j].Created)
	})
}
