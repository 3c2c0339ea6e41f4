// Package bunq is a typed client for the bunq sandbox banking API.
//
// The client covers exactly the surface this tool consumes: sandbox user
// creation, monetary accounts, payments, request inquiries, and request
// responses. All list operations are paginated with a count plus older_id
// cursor. Responses are decoded into explicit typed records at this
// boundary; nothing downstream touches raw JSON.
//
// Rate limits are respected with a fixed inter-call delay rather than
// concurrency control, and transient failures (429, 5xx, network) are
// retried with bounded exponential backoff.
package bunq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/nevolodia/bunq-sandman/internal/retry"
)

// DefaultBaseURL is the public bunq sandbox endpoint.
const DefaultBaseURL = "https://public-api.sandbox.bunq.com"

// DefaultPageSize is the maximum page size the sandbox API allows.
const DefaultPageSize = 200

const userAgent = "bunq-sandman"

// Client is an authenticated connection to the sandbox API on behalf of
// one identity (one API key). Identities never share a Client.
//
// Thread-safety: methods may be called from multiple goroutines; the
// cached user id is guarded internally.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	retry   retry.Policy
	delay   time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	userID int64 // 0 until resolved
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithCallDelay sets the fixed pause before every API call.
// Zero disables the pause (useful in tests).
func WithCallDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithRetryPolicy replaces the transient-error retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the given base URL and API key.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 30 * time.Second},
		retry:   retry.DefaultPolicy,
		delay:   500 * time.Millisecond,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSandboxUser provisions a brand-new sandbox person and returns
// its API key and numeric user id. This is the only unauthenticated call.
func (c *Client) CreateSandboxUser(ctx context.Context) (SandboxUser, error) {
	env, err := c.do(ctx, http.MethodPost, "/v1/sandbox-user-person", nil, false)
	if err != nil {
		return SandboxUser{}, fmt.Errorf("create sandbox user: %w", err)
	}

	for _, raw := range env.Response {
		var body apiKeyBody
		ok, err := unwrapOne(raw, "ApiKey", &body.APIKey)
		if err != nil {
			return SandboxUser{}, fmt.Errorf("create sandbox user: %w", err)
		}
		if ok && body.APIKey.Key != "" {
			return SandboxUser{
				APIKey: body.APIKey.Key,
				UserID: body.APIKey.User.UserPerson.ID,
			}, nil
		}
	}

	return SandboxUser{}, fmt.Errorf("create sandbox user: no ApiKey in response")
}

// UserID resolves and caches the numeric user id behind this API key.
func (c *Client) UserID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.userID != 0 {
		id := c.userID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	env, err := c.do(ctx, http.MethodGet, "/v1/user", nil, true)
	if err != nil {
		return 0, fmt.Errorf("resolve user id: %w", err)
	}

	for _, raw := range env.Response {
		var person struct {
			ID int64 `json:"id"`
		}
		ok, err := unwrapOne(raw, "UserPerson", &person)
		if err != nil {
			return 0, fmt.Errorf("resolve user id: %w", err)
		}
		if ok && person.ID != 0 {
			c.mu.Lock()
			c.userID = person.ID
			c.mu.Unlock()
			return person.ID, nil
		}
	}

	return 0, fmt.Errorf("resolve user id: no UserPerson in response")
}

// CreateMonetaryAccount opens a new bank account in the given currency
// and returns its id.
func (c *Client) CreateMonetaryAccount(ctx context.Context, currency string) (int64, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return 0, err
	}

	body := map[string]string{"currency": currency}
	path := fmt.Sprintf("/v1/user/%d/monetary-account-bank", userID)
	env, err := c.do(ctx, http.MethodPost, path, body, true)
	if err != nil {
		return 0, fmt.Errorf("create monetary account: %w", err)
	}
	id, err := firstID(env)
	if err != nil {
		return 0, fmt.Errorf("create monetary account: %w", err)
	}
	return id, nil
}

// ListAccounts returns all monetary accounts for this identity.
func (c *Client) ListAccounts(ctx context.Context) ([]MonetaryAccount, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/v1/user/%d/monetary-account", userID)
	env, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var accounts []MonetaryAccount
	for _, raw := range env.Response {
		var acct MonetaryAccount
		ok, err := unwrapOne(raw, "MonetaryAccountBank", &acct)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		if ok {
			accounts = append(accounts, acct)
		}
	}
	return accounts, nil
}

// GetAccount fetches a single monetary account by id.
func (c *Client) GetAccount(ctx context.Context, accountID int64) (MonetaryAccount, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return MonetaryAccount{}, err
	}

	path := fmt.Sprintf("/v1/user/%d/monetary-account/%d", userID, accountID)
	env, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return MonetaryAccount{}, fmt.Errorf("get account %d: %w", accountID, err)
	}

	for _, raw := range env.Response {
		var acct MonetaryAccount
		ok, err := unwrapOne(raw, "MonetaryAccountBank", &acct)
		if err != nil {
			return MonetaryAccount{}, fmt.Errorf("get account %d: %w", accountID, err)
		}
		if ok {
			return acct, nil
		}
	}
	return MonetaryAccount{}, fmt.Errorf("get account %d: not found in response", accountID)
}

// PrimaryAccount returns the identity's first active monetary account.
// Every sandbox person is created with one.
func (c *Client) PrimaryAccount(ctx context.Context) (MonetaryAccount, error) {
	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return MonetaryAccount{}, err
	}
	for _, acct := range accounts {
		if acct.Status == "" || acct.Status == "ACTIVE" {
			return acct, nil
		}
	}
	return MonetaryAccount{}, fmt.Errorf("primary account: no active monetary account")
}

// ListPayments returns one page of payments for an account, newest first.
// Pass the previous page's older_id cursor to continue; empty starts at
// the newest page.
func (c *Client) ListPayments(ctx context.Context, accountID int64, olderID string) ([]Payment, *Pagination, error) {
	env, err := c.list(ctx, accountID, "payment", olderID)
	if err != nil {
		return nil, nil, fmt.Errorf("list payments: %w", err)
	}

	var payments []Payment
	for _, raw := range env.Response {
		var p Payment
		ok, err := unwrapOne(raw, "Payment", &p)
		if err != nil {
			return nil, nil, fmt.Errorf("list payments: %w", err)
		}
		if ok {
			payments = append(payments, p)
		}
	}
	return payments, env.Pagination, nil
}

// ListRequestInquiries returns one page of outgoing payment requests.
func (c *Client) ListRequestInquiries(ctx context.Context, accountID int64, olderID string) ([]RequestInquiry, *Pagination, error) {
	env, err := c.list(ctx, accountID, "request-inquiry", olderID)
	if err != nil {
		return nil, nil, fmt.Errorf("list request inquiries: %w", err)
	}

	var inquiries []RequestInquiry
	for _, raw := range env.Response {
		var r RequestInquiry
		ok, err := unwrapOne(raw, "RequestInquiry", &r)
		if err != nil {
			return nil, nil, fmt.Errorf("list request inquiries: %w", err)
		}
		if ok {
			inquiries = append(inquiries, r)
		}
	}
	return inquiries, env.Pagination, nil
}

// ListRequestResponses returns one page of incoming payment requests.
func (c *Client) ListRequestResponses(ctx context.Context, accountID int64, olderID string) ([]RequestResponse, *Pagination, error) {
	env, err := c.list(ctx, accountID, "request-response", olderID)
	if err != nil {
		return nil, nil, fmt.Errorf("list request responses: %w", err)
	}

	var responses []RequestResponse
	for _, raw := range env.Response {
		var r RequestResponse
		ok, err := unwrapOne(raw, "RequestResponse", &r)
		if err != nil {
			return nil, nil, fmt.Errorf("list request responses: %w", err)
		}
		if ok {
			responses = append(responses, r)
		}
	}
	return responses, env.Pagination, nil
}

// CreatePayment sends money from the given account to the counterparty
// and returns the new payment id. The amount must be positive; direction
// is fixed (this account pays).
func (c *Client) CreatePayment(ctx context.Context, accountID int64, amount Amount, counterparty Pointer, description string) (int64, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return 0, err
	}

	body := map[string]any{
		"amount":             amount,
		"counterparty_alias": counterparty,
		"description":        description,
	}
	path := fmt.Sprintf("/v1/user/%d/monetary-account/%d/payment", userID, accountID)
	env, err := c.do(ctx, http.MethodPost, path, body, true)
	if err != nil {
		return 0, fmt.Errorf("create payment: %w", err)
	}
	id, err := firstID(env)
	if err != nil {
		return 0, fmt.Errorf("create payment: %w", err)
	}
	return id, nil
}

// CreateRequestInquiry issues a payment request from the given account
// to the counterparty and returns the new inquiry id.
func (c *Client) CreateRequestInquiry(ctx context.Context, accountID int64, amount Amount, counterparty Pointer, description string, allowBunqme bool) (int64, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return 0, err
	}

	body := map[string]any{
		"amount_inquired":    amount,
		"counterparty_alias": counterparty,
		"description":        description,
		"allow_bunqme":       allowBunqme,
	}
	path := fmt.Sprintf("/v1/user/%d/monetary-account/%d/request-inquiry", userID, accountID)
	env, err := c.do(ctx, http.MethodPost, path, body, true)
	if err != nil {
		return 0, fmt.Errorf("create request inquiry: %w", err)
	}
	id, err := firstID(env)
	if err != nil {
		return 0, fmt.Errorf("create request inquiry: %w", err)
	}
	return id, nil
}

// UpdateRequestResponse accepts or rejects an incoming payment request.
// Status must be RequestStatusAccepted or RequestStatusRejected.
func (c *Client) UpdateRequestResponse(ctx context.Context, accountID, responseID int64, status string) error {
	userID, err := c.UserID(ctx)
	if err != nil {
		return err
	}

	body := map[string]string{"status": status}
	path := fmt.Sprintf("/v1/user/%d/monetary-account/%d/request-response/%d", userID, accountID, responseID)
	if _, err := c.do(ctx, http.MethodPut, path, body, true); err != nil {
		return fmt.Errorf("update request response %d: %w", responseID, err)
	}
	return nil
}

// list fetches one page of an account-scoped collection.
func (c *Client) list(ctx context.Context, accountID int64, collection, olderID string) (*envelope, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("count", strconv.Itoa(DefaultPageSize))
	if olderID != "" {
		q.Set("older_id", olderID)
	}
	path := fmt.Sprintf("/v1/user/%d/monetary-account/%d/%s?%s", userID, accountID, collection, q.Encode())
	return c.do(ctx, http.MethodGet, path, nil, true)
}

// do performs one HTTP round-trip with the fixed inter-call delay and
// the transient-error retry policy. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any, authenticated bool) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var env *envelope
	err := c.retry.Do(ctx, IsTransient, func(ctx context.Context) error {
		if err := c.pause(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("User-Agent", userAgent)
		if authenticated {
			req.Header.Set("X-Bunq-Client-Authentication", c.apiKey)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s %s: read body: %w", method, path, err)
		}

		var decoded envelope
		// Error bodies are still envelopes; a decode failure on a non-2xx
		// response must not mask the status code.
		if len(data) > 0 {
			if err := json.Unmarshal(data, &decoded); err != nil && resp.StatusCode < 300 {
				return fmt.Errorf("%s %s: decode response: %w", method, path, err)
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			for _, e := range decoded.Error {
				if e.Description != "" {
					apiErr.Messages = append(apiErr.Messages, e.Description)
				}
			}
			c.log.Debug("sandbox call failed",
				"method", method,
				"path", path,
				"status", resp.StatusCode,
			)
			return apiErr
		}

		env = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// pause applies the fixed inter-call delay, honoring cancellation.
func (c *Client) pause(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.delay):
		return nil
	}
}

// firstID extracts the id from a {"Id":{"id":N}} creation response.
func firstID(env *envelope) (int64, error) {
	for _, raw := range env.Response {
		var body idBody
		ok, err := unwrapOne(raw, "Id", &body.ID)
		if err != nil {
			return 0, err
		}
		if ok && body.ID.ID != 0 {
			return body.ID.ID, nil
		}
	}
	return 0, fmt.Errorf("no Id in response")
}
