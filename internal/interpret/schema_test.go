package interpret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionsValidDocument(t *testing.T) {
	doc := []byte(`[
		{"action_type": "CreateUserPerson", "user_id": 0},
		{"action_type": "CreateMonetaryAccount", "user_id": 0, "account_id": "B", "currency": "EUR"},
		{"action_type": "GetAccountOverview", "user_id": 0, "account_id": "B"},
		{"action_type": "RequestPayment", "user_id": 0, "account_id": "B", "amount_value": 10, "amount_currency": "EUR", "counterparty_account_id": "sugardaddy", "description": "Sugar money request"},
		{"action_type": "MakePayment", "user_id": 0, "account_id": "B", "amount_value": 8.50, "amount_currency": "EUR", "counterparty_account_id": "C"},
		{"action_type": "RespondToRequest", "account_id": "B", "request_id": 41, "status": "ACCEPTED"},
		{"action_type": "Wait", "seconds": 0.5}
	]`)

	actions, err := ParseActions(doc)
	require.NoError(t, err)
	require.Len(t, actions, 7)

	assert.Equal(t, ActionCreateUserPerson, actions[0].Type)
	assert.Equal(t, "B", actions[1].AccountName)
	assert.Equal(t, "8.50", actions[4].AmountValue.StringFixed(2))
	assert.Equal(t, int64(41), actions[5].RequestID)
	assert.Equal(t, 0.5, actions[6].Seconds)
}

func TestParseActionsRejectsWrongFieldType(t *testing.T) {
	doc := []byte(`[{"action_type": "MakePayment", "amount_value": "ten"}]`)

	actions, err := ParseActions(doc)
	assert.Nil(t, actions, "rejected wholesale, nothing is executable")

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestParseActionsRejectsMissingRequiredFields(t *testing.T) {
	doc := []byte(`[{"action_type": "CreateMonetaryAccount", "user_id": 0}]`)

	_, err := ParseActions(doc)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestParseActionsRejectsBadStatus(t *testing.T) {
	doc := []byte(`[{"action_type": "RespondToRequest", "account_id": "B", "request_id": 1, "status": "MAYBE"}]`)

	_, err := ParseActions(doc)
	assert.Error(t, err)
}

func TestParseActionsRejectsNegativeAmount(t *testing.T) {
	doc := []byte(`[{"action_type": "MakePayment", "account_id": "B", "amount_value": -5, "amount_currency": "EUR", "counterparty_account_id": "C"}]`)

	_, err := ParseActions(doc)
	assert.Error(t, err)
}

func TestParseActionsRejectsOneBadActionAmongGood(t *testing.T) {
	doc := []byte(`[
		{"action_type": "CreateUserPerson", "user_id": 0},
		{"action_type": "Wait", "seconds": "soon"}
	]`)

	actions, err := ParseActions(doc)
	assert.Nil(t, actions)
	assert.Error(t, err)
}

func TestParseActionsAllowsUnrecognizedType(t *testing.T) {
	// Unknown action types are an execution-time concern: the interpreter
	// reports them per action without halting the run.
	doc := []byte(`[{"action_type": "DanceParty", "tempo": "allegro"}]`)

	actions, err := ParseActions(doc)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "DanceParty", actions[0].Type)
}

func TestParseActionsRejectsNonList(t *testing.T) {
	_, err := ParseActions([]byte(`{"action_type": "Wait", "seconds": 1}`))
	assert.Error(t, err)

	_, err = ParseActions([]byte(`not json`))
	assert.Error(t, err)
}
