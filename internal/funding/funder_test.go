package funding

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
	"github.com/nevolodia/bunq-sandman/internal/registry"
)

type fakeResolver struct {
	records map[string]registry.Record
}

func (f *fakeResolver) Resolve(iban string) (registry.Record, bool) {
	rec, ok := f.records[iban]
	return rec, ok
}

type inquiry struct {
	apiKey       string
	accountID    int64
	amount       bunq.Amount
	counterparty bunq.Pointer
	description  string
	allowBunqme  bool
}

type fakeRequester struct {
	apiKey    string
	inquiries *[]inquiry
	fail      map[string]error // keyed by API key
}

func (f *fakeRequester) CreateRequestInquiry(_ context.Context, accountID int64, amount bunq.Amount, counterparty bunq.Pointer, description string, allowBunqme bool) (int64, error) {
	if err, ok := f.fail[f.apiKey]; ok {
		return 0, err
	}
	*f.inquiries = append(*f.inquiries, inquiry{
		apiKey:       f.apiKey,
		accountID:    accountID,
		amount:       amount,
		counterparty: counterparty,
		description:  description,
		allowBunqme:  allowBunqme,
	})
	return int64(len(*f.inquiries)), nil
}

type fakeGateway struct {
	inquiries []inquiry
	fail      map[string]error
}

func (f *fakeGateway) dial(apiKey string) Requester {
	return &fakeRequester{apiKey: apiKey, inquiries: &f.inquiries, fail: f.fail}
}

func record(iban, apiKey string, accountID int64) registry.Record {
	return registry.Record{
		OriginalIBAN:  iban,
		APIKey:        apiKey,
		UserID:        accountID * 10,
		AccountID:     accountID,
		SyntheticIBAN: "NLCOPY" + iban,
	}
}

func TestFundRequestsFromEachAgentIdentity(t *testing.T) {
	resolver := &fakeResolver{records: map[string]registry.Record{
		"NL01": record("NL01", "key-1", 101),
		"NL02": record("NL02", "key-2", 102),
	}}
	gw := &fakeGateway{}
	funder := NewFunder(resolver, gw.dial, "", "EUR", nil)

	report := funder.Fund(context.Background(), Requirements{
		"NL01": decimal.RequireFromString("1010.00"),
		"NL02": decimal.RequireFromString("1000.00"),
	})

	require.Len(t, report.Success, 2)
	require.Len(t, gw.inquiries, 2)

	// Keys are funded in IBAN order, so the call sequence is stable.
	first := gw.inquiries[0]
	assert.Equal(t, "key-1", first.apiKey)
	assert.Equal(t, int64(101), first.accountID)
	assert.Equal(t, "1010.00", first.amount.Value.StringFixed(2))
	assert.Equal(t, bunq.PointerTypeEmail, first.counterparty.Type)
	assert.Equal(t, DefaultSponsorEmail, first.counterparty.Value)
	assert.True(t, first.allowBunqme)
	assert.Contains(t, first.description, "NL01")
}

func TestFundSkipsUnprovisionedAgents(t *testing.T) {
	resolver := &fakeResolver{records: map[string]registry.Record{
		"NL01": record("NL01", "key-1", 101),
		// NL02 never provisioned, NL03 provisioned but credentials only.
		"NL03": {OriginalIBAN: "NL03", APIKey: "key-3"},
	}}
	gw := &fakeGateway{}
	funder := NewFunder(resolver, gw.dial, "", "", nil)

	report := funder.Fund(context.Background(), Requirements{
		"NL01": decimal.RequireFromString("500.00"),
		"NL02": decimal.RequireFromString("500.00"),
		"NL03": decimal.RequireFromString("500.00"),
	})

	assert.Len(t, report.Success, 1)
	assert.Empty(t, report.Failed)
	require.Len(t, report.Skipped, 2)
	for _, out := range report.Skipped {
		assert.Equal(t, "identity not provisioned", out.Reason)
	}
	assert.Len(t, gw.inquiries, 1)
}

func TestFundSkipsZeroRequirements(t *testing.T) {
	resolver := &fakeResolver{records: map[string]registry.Record{
		"NL01": record("NL01", "key-1", 101),
	}}
	gw := &fakeGateway{}
	funder := NewFunder(resolver, gw.dial, "", "", nil)

	report := funder.Fund(context.Background(), Requirements{"NL01": decimal.Zero})

	assert.Empty(t, report.Success)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "nothing to fund", report.Skipped[0].Reason)
	assert.Empty(t, gw.inquiries)
}

func TestFundContinuesPastFailures(t *testing.T) {
	resolver := &fakeResolver{records: map[string]registry.Record{
		"NL01": record("NL01", "key-1", 101),
		"NL02": record("NL02", "key-2", 102),
	}}
	gw := &fakeGateway{fail: map[string]error{
		"key-1": &bunq.APIError{StatusCode: 500, Messages: []string{"boom"}},
	}}
	funder := NewFunder(resolver, gw.dial, "", "", nil)

	report := funder.Fund(context.Background(), Requirements{
		"NL01": decimal.RequireFromString("100.00"),
		"NL02": decimal.RequireFromString("100.00"),
	})

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "NL01", report.Failed[0].IBAN)
	require.Len(t, report.Success, 1)
	assert.Equal(t, "NL02", report.Success[0].IBAN)
}

func TestFundEveryAgentAppearsExactlyOnce(t *testing.T) {
	resolver := &fakeResolver{records: map[string]registry.Record{
		"NL01": record("NL01", "key-1", 101),
	}}
	gw := &fakeGateway{}
	funder := NewFunder(resolver, gw.dial, "", "", nil)

	required := Requirements{
		"NL01": decimal.RequireFromString("100.00"),
		"NL02": decimal.RequireFromString("100.00"),
		"NL03": decimal.Zero,
	}
	report := funder.Fund(context.Background(), required)

	assert.Equal(t, len(required), len(report.Success)+len(report.Failed)+len(report.Skipped))
}

func TestFundHonorsCancellation(t *testing.T) {
	resolver := &fakeResolver{records: map[string]registry.Record{
		"NL01": record("NL01", "key-1", 101),
	}}
	gw := &fakeGateway{}
	funder := NewFunder(resolver, gw.dial, "", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := funder.Fund(ctx, Requirements{"NL01": decimal.RequireFromString("100.00")})
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "run cancelled", report.Skipped[0].Reason)
	assert.Empty(t, gw.inquiries)
}
