package funding

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevolodia/bunq-sandman/internal/txn"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func at(offset int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute)
}

func ibanSet(ibans ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ibans))
	for _, iban := range ibans {
		set[iban] = struct{}{}
	}
	return set
}

func TestComputeAcceptedRequestThenPayment(t *testing.T) {
	// The agent concedes 10.00 to a request before any payment credits
	// it, so its balance bottoms out at -10.00.
	txns := []txn.Transaction{
		{
			Kind:             txn.KindPayment,
			ID:               2,
			Created:          at(1),
			Amount:           dec(t, "-8.00"),
			CounterpartyIBAN: "NL91AGENT0000001",
		},
		{
			Kind:             txn.KindRequest,
			ID:               1,
			Created:          at(0),
			Amount:           dec(t, "10.00"),
			Status:           txn.StatusAccepted,
			CounterpartyIBAN: "NL91AGENT0000001",
		},
	}

	buffer := dec(t, "1000.00")
	required := Compute(txns, ibanSet("NL91AGENT0000001"), buffer, nil)

	require.Len(t, required, 1)
	assert.True(t, dec(t, "1010.00").Equal(required["NL91AGENT0000001"]),
		"got %s", required["NL91AGENT0000001"])
}

func TestComputeBufferOnlyWithoutDips(t *testing.T) {
	// Payments only ever credit the agent; the requirement is the bare
	// buffer regardless of how much flowed.
	txns := []txn.Transaction{
		{Kind: txn.KindPayment, ID: 1, Created: at(0), Amount: dec(t, "-50.00"), CounterpartyIBAN: "NL91AGENT0000001"},
		{Kind: txn.KindPayment, ID: 2, Created: at(1), Amount: dec(t, "25.00"), CounterpartyIBAN: "NL91AGENT0000001"},
	}

	required := Compute(txns, ibanSet("NL91AGENT0000001"), dec(t, "1000.00"), nil)
	assert.True(t, dec(t, "1000.00").Equal(required["NL91AGENT0000001"]))
}

func TestComputeOrdersByTimestampNotInputOrder(t *testing.T) {
	// Input arrives newest first, the sandbox's natural listing order.
	// Chronologically the agent is credited 30 before conceding 20, so
	// it never dips.
	txns := []txn.Transaction{
		{Kind: txn.KindRequest, ID: 2, Created: at(5), Amount: dec(t, "20.00"), Status: txn.StatusAccepted, CounterpartyIBAN: "NL91AGENT0000001"},
		{Kind: txn.KindPayment, ID: 1, Created: at(0), Amount: dec(t, "30.00"), CounterpartyIBAN: "NL91AGENT0000001"},
	}

	required := Compute(txns, ibanSet("NL91AGENT0000001"), decimal.Zero, nil)
	assert.True(t, required["NL91AGENT0000001"].IsZero(),
		"got %s", required["NL91AGENT0000001"])
}

func TestComputePendingAndRejectedRequestsMoveNothing(t *testing.T) {
	txns := []txn.Transaction{
		{Kind: txn.KindRequest, ID: 1, Created: at(0), Amount: dec(t, "500.00"), Status: txn.StatusPending, CounterpartyIBAN: "NL91AGENT0000001"},
		{Kind: txn.KindRequest, ID: 2, Created: at(1), Amount: dec(t, "500.00"), Status: txn.StatusRejected, CounterpartyIBAN: "NL91AGENT0000001"},
	}

	required := Compute(txns, ibanSet("NL91AGENT0000001"), dec(t, "1000.00"), nil)
	assert.True(t, dec(t, "1000.00").Equal(required["NL91AGENT0000001"]))
}

func TestComputeEveryAgentGetsARequirement(t *testing.T) {
	// Agents with no transactions at all still appear, funded with the
	// buffer, so replay never starts an agent at zero.
	required := Compute(nil, ibanSet("NL91AGENT0000001", "NL91AGENT0000002"), dec(t, "1000.00"), nil)

	require.Len(t, required, 2)
	for iban, amount := range required {
		assert.True(t, dec(t, "1000.00").Equal(amount), "agent %s got %s", iban, amount)
	}
}

func TestComputeIgnoresUnknownIBANs(t *testing.T) {
	txns := []txn.Transaction{
		{Kind: txn.KindRequest, ID: 1, Created: at(0), Amount: dec(t, "99.00"), Status: txn.StatusAccepted, CounterpartyIBAN: "NL00STRANGER001"},
	}

	required := Compute(txns, ibanSet("NL91AGENT0000001"), decimal.Zero, nil)
	require.Len(t, required, 1)
	assert.True(t, required["NL91AGENT0000001"].IsZero())
}

func TestComputeBufferMonotonicity(t *testing.T) {
	txns := []txn.Transaction{
		{Kind: txn.KindRequest, ID: 1, Created: at(0), Amount: dec(t, "40.00"), Status: txn.StatusAccepted, CounterpartyIBAN: "NL91AGENT0000001"},
	}

	small := Compute(txns, ibanSet("NL91AGENT0000001"), dec(t, "100.00"), nil)
	big := Compute(txns, ibanSet("NL91AGENT0000001"), dec(t, "1000.00"), nil)

	diff := big["NL91AGENT0000001"].Sub(small["NL91AGENT0000001"])
	assert.True(t, dec(t, "900.00").Equal(diff), "got diff %s", diff)
}

func TestComputeFundingIsSufficient(t *testing.T) {
	// Replaying the same sequence against the computed requirement must
	// never drive the balance negative, even with a zero buffer.
	txns := []txn.Transaction{
		{Kind: txn.KindRequest, ID: 1, Created: at(0), Amount: dec(t, "10.00"), Status: txn.StatusAccepted, CounterpartyIBAN: "A"},
		{Kind: txn.KindPayment, ID: 2, Created: at(1), Amount: dec(t, "4.00"), CounterpartyIBAN: "A"},
		{Kind: txn.KindRequest, ID: 3, Created: at(2), Amount: dec(t, "7.00"), Status: txn.StatusAccepted, CounterpartyIBAN: "A"},
		{Kind: txn.KindRequest, ID: 4, Created: at(3), Amount: dec(t, "2.00"), Status: txn.StatusAccepted, CounterpartyIBAN: "A"},
	}

	required := Compute(txns, ibanSet("A"), decimal.Zero, nil)

	balance := required["A"]
	ordered := make([]txn.Transaction, len(txns))
	copy(ordered, txns)
	txn.SortAscending(ordered)
	for _, tx := range ordered {
		switch {
		case tx.Kind == txn.KindPayment:
			balance = balance.Add(tx.Amount.Abs())
		case tx.IsAcceptedRequest():
			balance = balance.Sub(tx.Amount.Abs())
		}
		assert.False(t, balance.IsNegative(), "balance dipped to %s at txn %d", balance, tx.ID)
	}
}
