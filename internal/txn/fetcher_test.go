package txn

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
)

type fakeLister struct {
	paymentPages [][]bunq.Payment
	requestPages [][]bunq.RequestInquiry

	paymentCalls int
	requestCalls int
}

func olderURL(id string) *bunq.Pagination {
	url := "/payment?count=200&older_id=" + id
	return &bunq.Pagination{OlderURL: &url}
}

func (f *fakeLister) ListPayments(ctx context.Context, accountID int64, olderID string) ([]bunq.Payment, *bunq.Pagination, error) {
	page := f.paymentCalls
	f.paymentCalls++
	payments := f.paymentPages[page]
	if page+1 < len(f.paymentPages) {
		return payments, olderURL("next"), nil
	}
	return payments, &bunq.Pagination{}, nil
}

func (f *fakeLister) ListRequestInquiries(ctx context.Context, accountID int64, olderID string) ([]bunq.RequestInquiry, *bunq.Pagination, error) {
	page := f.requestCalls
	f.requestCalls++
	requests := f.requestPages[page]
	if page+1 < len(f.requestPages) {
		return requests, olderURL("next"), nil
	}
	return requests, &bunq.Pagination{}, nil
}

func bunqTime(t time.Time) bunq.Time {
	return bunq.Time{Time: t}
}

func TestFetchAllMergesAndSortsNewestFirst(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	lister := &fakeLister{
		paymentPages: [][]bunq.Payment{
			{{
				ID:                10,
				Created:           bunqTime(t0.Add(2 * time.Hour)),
				Amount:            bunq.Amount{Value: decimal.RequireFromString("-8.00"), Currency: "EUR"},
				CounterpartyAlias: bunq.LabelMonetaryAccount{IBAN: "NL01"},
			}},
			{{
				ID:                8,
				Created:           bunqTime(t0),
				Amount:            bunq.Amount{Value: decimal.RequireFromString("12.00"), Currency: "EUR"},
				CounterpartyAlias: bunq.LabelMonetaryAccount{IBAN: "NL02"},
			}},
		},
		requestPages: [][]bunq.RequestInquiry{
			{{
				ID:                9,
				Created:           bunqTime(t0.Add(time.Hour)),
				AmountInquired:    bunq.Amount{Value: decimal.RequireFromString("10.00"), Currency: "EUR"},
				Status:            bunq.RequestStatusAccepted,
				CounterpartyAlias: bunq.LabelMonetaryAccount{IBAN: "NL01"},
			}},
		},
	}

	fetcher := NewFetcher(lister, 1, nil)
	txns, err := fetcher.FetchAll(context.Background())
	require.NoError(t, err)

	require.Len(t, txns, 3)
	assert.Equal(t, 2, lister.paymentCalls, "must follow the older_id cursor")
	assert.Equal(t, 1, lister.requestCalls)

	// Newest first.
	assert.Equal(t, int64(10), txns[0].ID)
	assert.Equal(t, int64(9), txns[1].ID)
	assert.Equal(t, int64(8), txns[2].ID)

	assert.Equal(t, KindPayment, txns[0].Kind)
	assert.Equal(t, KindRequest, txns[1].Kind)
	assert.Equal(t, StatusAccepted, txns[1].Status)
	assert.True(t, txns[1].IsAcceptedRequest())
	assert.Empty(t, txns[0].Status, "payments carry no status")
}

func TestSortAscendingIsStable(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	txns := []Transaction{
		{ID: 1, Created: at},
		{ID: 2, Created: at},
		{ID: 3, Created: at.Add(-time.Hour)},
	}

	SortAscending(txns)

	assert.Equal(t, int64(3), txns[0].ID)
	assert.Equal(t, int64(1), txns[1].ID, "equal timestamps must keep insertion order")
	assert.Equal(t, int64(2), txns[2].ID)
}
