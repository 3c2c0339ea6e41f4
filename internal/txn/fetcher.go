package txn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
)

// HistoryLister is the slice of the sandbox client the fetcher needs.
type HistoryLister interface {
	ListPayments(ctx context.Context, accountID int64, olderID string) ([]bunq.Payment, *bunq.Pagination, error)
	ListRequestInquiries(ctx context.Context, accountID int64, olderID string) ([]bunq.RequestInquiry, *bunq.Pagination, error)
}

// Fetcher retrieves the primary user's full transaction history,
// following pagination until the sandbox signals no further page.
type Fetcher struct {
	client    HistoryLister
	accountID int64
	log       *slog.Logger
}

// NewFetcher creates a fetcher for one monetary account.
func NewFetcher(client HistoryLister, accountID int64, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{client: client, accountID: accountID, log: log}
}

// FetchAll collects every payment and request inquiry on the account and
// returns them sorted by creation time, newest first.
func (f *Fetcher) FetchAll(ctx context.Context) ([]Transaction, error) {
	var txns []Transaction

	page := 0
	cursor := ""
	for {
		page++
		payments, pagination, err := f.client.ListPayments(ctx, f.accountID, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch payments page %d: %w", page, err)
		}
		f.log.Debug("fetched payments page", "page", page, "count", len(payments))

		for _, p := range payments {
			txns = append(txns, paymentTransaction(p))
		}

		next, ok := pagination.OlderID()
		if !ok {
			break
		}
		cursor = next
	}

	page = 0
	cursor = ""
	for {
		page++
		inquiries, pagination, err := f.client.ListRequestInquiries(ctx, f.accountID, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch requests page %d: %w", page, err)
		}
		f.log.Debug("fetched requests page", "page", page, "count", len(inquiries))

		for _, r := range inquiries {
			txns = append(txns, requestTransaction(r))
		}

		next, ok := pagination.OlderID()
		if !ok {
			break
		}
		cursor = next
	}

	SortDescending(txns)

	f.log.Info("transaction history fetched",
		"account_id", f.accountID,
		"transactions", len(txns),
	)
	return txns, nil
}

func paymentTransaction(p bunq.Payment) Transaction {
	return Transaction{
		Kind:             KindPayment,
		ID:               p.ID,
		Created:          p.Created.Time,
		Updated:          p.Updated.Time,
		Amount:           p.Amount.Value,
		Currency:         p.Amount.Currency,
		Description:      p.Description,
		CounterpartyIBAN: p.CounterpartyAlias.IBAN,
	}
}

func requestTransaction(r bunq.RequestInquiry) Transaction {
	return Transaction{
		Kind:             KindRequest,
		ID:               r.ID,
		Created:          r.Created.Time,
		Updated:          r.Updated.Time,
		Amount:           r.AmountInquired.Value,
		Currency:         r.AmountInquired.Currency,
		Description:      r.Description,
		CounterpartyIBAN: r.CounterpartyAlias.IBAN,
		Status:           r.Status,
	}
}
