package bunq

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// timeLayout is the timestamp format used by the sandbox API.
const timeLayout = "2006-01-02 15:04:05.000000"

// Time wraps time.Time with the sandbox wire format.
type Time struct {
	time.Time
}

// UnmarshalJSON parses the sandbox timestamp format.
// An empty or null value leaves the zero time.
func (t *Time) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timeLayout, raw)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON renders the sandbox timestamp format.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(timeLayout))
}

// Amount is a monetary value with a currency code.
// The wire format carries the value as a string with two decimal places.
type Amount struct {
	Value    decimal.Decimal `json:"-"`
	Currency string          `json:"currency"`
}

// NewAmount builds an Amount from a decimal value and ISO currency code.
func NewAmount(value decimal.Decimal, currency string) Amount {
	return Amount{Value: value, Currency: currency}
}

type amountWire struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// MarshalJSON renders the amount with exactly two decimal places,
// as the sandbox API requires.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountWire{
		Value:    a.Value.StringFixed(2),
		Currency: a.Currency,
	})
}

// UnmarshalJSON parses the string-encoded decimal value.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var w amountWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	value, err := decimal.NewFromString(w.Value)
	if err != nil {
		return fmt.Errorf("parse amount value %q: %w", w.Value, err)
	}
	a.Value = value
	a.Currency = w.Currency
	return nil
}

// Pointer identifies a counterparty by typed alias (IBAN or EMAIL).
type Pointer struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// PointerTypeIBAN and PointerTypeEmail are the alias types this tool uses.
const (
	PointerTypeIBAN  = "IBAN"
	PointerTypeEmail = "EMAIL"
)

// IBANPointer builds an IBAN alias pointer.
func IBANPointer(iban, name string) Pointer {
	return Pointer{Type: PointerTypeIBAN, Value: iban, Name: name}
}

// EmailPointer builds an EMAIL alias pointer.
func EmailPointer(email, name string) Pointer {
	return Pointer{Type: PointerTypeEmail, Value: email, Name: name}
}

// LabelMonetaryAccount is the counterparty label attached to payments
// and request inquiries. Only the fields this tool reads are modeled.
type LabelMonetaryAccount struct {
	IBAN        string `json:"iban"`
	DisplayName string `json:"display_name"`
}

// Payment is a settled payment on a monetary account.
// Amounts are signed from the account owner's perspective:
// negative means money left the account.
type Payment struct {
	ID                int64                `json:"id"`
	Created           Time                 `json:"created"`
	Updated           Time                 `json:"updated"`
	Amount            Amount               `json:"amount"`
	Description       string               `json:"description"`
	CounterpartyAlias LabelMonetaryAccount `json:"counterparty_alias"`
}

// Request inquiry statuses as reported by the sandbox.
const (
	RequestStatusPending  = "PENDING"
	RequestStatusAccepted = "ACCEPTED"
	RequestStatusRejected = "REJECTED"
)

// RequestInquiry is an outgoing payment request issued by the account owner.
type RequestInquiry struct {
	ID                int64                `json:"id"`
	Created           Time                 `json:"created"`
	Updated           Time                 `json:"updated"`
	AmountInquired    Amount               `json:"amount_inquired"`
	Description       string               `json:"description"`
	Status            string               `json:"status"`
	CounterpartyAlias LabelMonetaryAccount `json:"counterparty_alias"`
}

// RequestResponse is an incoming payment request awaiting a response.
type RequestResponse struct {
	ID                int64                `json:"id"`
	Created           Time                 `json:"created"`
	AmountInquired    Amount               `json:"amount_inquired"`
	Description       string               `json:"description"`
	Status            string               `json:"status"`
	CounterpartyAlias LabelMonetaryAccount `json:"counterparty_alias"`
}

// MonetaryAccount is a bank account belonging to a sandbox user.
type MonetaryAccount struct {
	ID       int64     `json:"id"`
	Status   string    `json:"status"`
	Currency string    `json:"currency"`
	Balance  Amount    `json:"balance"`
	Alias    []Pointer `json:"alias"`
}

// IBAN returns the account's IBAN alias, or false when the account
// carries no IBAN-typed alias.
func (m MonetaryAccount) IBAN() (string, bool) {
	for _, alias := range m.Alias {
		if alias.Type == PointerTypeIBAN && alias.Value != "" {
			return alias.Value, true
		}
	}
	return "", false
}

// SandboxUser is the credential pair returned by sandbox user creation.
type SandboxUser struct {
	APIKey string
	UserID int64
}

// Pagination carries the cursor URLs from a list response.
// A nil OlderURL signals the final page.
type Pagination struct {
	FutureURL *string `json:"future_url"`
	NewerURL  *string `json:"newer_url"`
	OlderURL  *string `json:"older_url"`
}

// HasOlder reports whether another (older) page is available.
func (p *Pagination) HasOlder() bool {
	return p != nil && p.OlderURL != nil && *p.OlderURL != ""
}

// OlderID extracts the older_id cursor from the older URL.
func (p *Pagination) OlderID() (string, bool) {
	if !p.HasOlder() {
		return "", false
	}
	url := *p.OlderURL
	idx := strings.Index(url, "older_id=")
	if idx < 0 {
		return "", false
	}
	cursor := url[idx+len("older_id="):]
	if amp := strings.IndexByte(cursor, '&'); amp >= 0 {
		cursor = cursor[:amp]
	}
	return cursor, cursor != ""
}

// envelope is the top-level wrapper every sandbox response uses.
type envelope struct {
	Response   []json.RawMessage `json:"Response"`
	Pagination *Pagination       `json:"Pagination"`
	Error      []apiErrorBody    `json:"Error"`
}

type apiErrorBody struct {
	Description           string `json:"error_description"`
	DescriptionTranslated string `json:"error_description_translated"`
}

// idBody is the {"Id":{"id":N}} creation response.
type idBody struct {
	ID struct {
		ID int64 `json:"id"`
	} `json:"Id"`
}

// apiKeyBody is the sandbox-user-person creation response.
type apiKeyBody struct {
	APIKey struct {
		Key  string `json:"api_key"`
		User struct {
			UserPerson struct {
				ID int64 `json:"id"`
			} `json:"UserPerson"`
		} `json:"user"`
	} `json:"ApiKey"`
}

// unwrapOne decodes the single keyed object inside a Response entry,
// e.g. {"Payment": {...}} with key "Payment". Entries missing the key
// are skipped by callers via the ok return.
func unwrapOne(raw json.RawMessage, key string, out any) (bool, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return false, fmt.Errorf("decode response entry: %w", err)
	}
	inner, ok := wrapper[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(inner, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
