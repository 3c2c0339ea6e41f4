package interpret

import (
	"time"

	"github.com/shopspring/decimal"
)

// Known action types.
const (
	ActionCreateUserPerson      = "CreateUserPerson"
	ActionCreateMonetaryAccount = "CreateMonetaryAccount"
	ActionGetAccountOverview    = "GetAccountOverview"
	ActionMakePayment           = "MakePayment"
	ActionRequestPayment        = "RequestPayment"
	ActionRespondToRequest      = "RespondToRequest"
	ActionWait                  = "Wait"
)

// SponsorCounterparty is the reserved counterparty_account_id that routes
// a RequestPayment to the sandbox sponsor instead of an assigned account.
const SponsorCounterparty = "sugardaddy"

// Action is one step of a workflow document. Which fields are meaningful
// depends on Type; the schema enforces the per-type field sets before an
// Action is ever constructed.
//
// user_id and account_id are names assigned by the document, not remote
// identifiers; the interpreter maps them to remote ids as creation
// actions succeed.
type Action struct {
	Type           string          `json:"action_type"`
	UserName       int             `json:"user_id"`
	AccountName    string          `json:"account_id"`
	Currency       string          `json:"currency"`
	AmountValue    decimal.Decimal `json:"amount_value"`
	AmountCurrency string          `json:"amount_currency"`
	Counterparty   string          `json:"counterparty_account_id"`
	Description    string          `json:"description"`
	RequestID      int64           `json:"request_id"`
	Status         string          `json:"status"`
	Seconds        float64         `json:"seconds"`
}

// Event is the outcome of one action, in document order.
type Event struct {
	Index   int
	Type    string
	Message string
	Elapsed time.Duration
	Err     error
}

// OK reports whether the action succeeded.
func (e Event) OK() bool { return e.Err == nil }
