package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevolodia/bunq-sandman/internal/funding"
	"github.com/nevolodia/bunq-sandman/internal/replay"
	"github.com/nevolodia/bunq-sandman/internal/txn"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenAppliesPragmas(t *testing.T) {
	j := openTestJournal(t)

	var mode string
	require.NoError(t, j.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, j.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	require.NoError(t, err)
	token, err := j1.BeginRun(context.Background())
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	runs, err := j2.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, token, runs[0].Token)
}

func TestRecordOutcomeIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	token, err := j.BeginRun(ctx)
	require.NoError(t, err)

	require.NoError(t, j.RecordOutcome(ctx, token, PhaseFunding, "NL01", StateSuccess, "1000.00", ""))
	require.NoError(t, j.RecordOutcome(ctx, token, PhaseFunding, "NL01", StateFailed, "1000.00", "retried phase"))

	rows, err := j.Outcomes(ctx, token)
	require.NoError(t, err)
	require.Len(t, rows, 1, "duplicate (run, phase, subject) is a no-op")
	assert.Equal(t, StateSuccess, rows[0].State, "first write wins")
}

func TestRecordReplayRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	token, err := j.BeginRun(ctx)
	require.NoError(t, err)

	report := replay.Report{
		Replayed: []replay.Outcome{{OriginalID: 11, NewID: 901, Kind: txn.KindPayment, Amount: decimal.RequireFromString("8"), Currency: "EUR"}},
		Failed:   []replay.Outcome{{OriginalID: 12, Kind: txn.KindRequest, Amount: decimal.RequireFromString("10"), Currency: "EUR", Reason: "insufficient funds"}},
		Skipped:  []replay.Outcome{{OriginalID: 13, Kind: txn.KindPayment, Amount: decimal.RequireFromString("5"), Currency: "EUR", Reason: "identity not provisioned"}},
	}
	require.NoError(t, j.RecordReplay(ctx, token, report))

	rows, err := j.Outcomes(ctx, token)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byID := map[string]Row{}
	for _, row := range rows {
		byID[row.Subject] = row
	}
	assert.Equal(t, StateSuccess, byID["11"].State)
	assert.Equal(t, "new id 901", byID["11"].Detail)
	assert.Equal(t, "8.00 EUR", byID["11"].Amount)
	assert.Equal(t, StateFailed, byID["12"].State)
	assert.Equal(t, "insufficient funds", byID["12"].Detail)
	assert.Equal(t, StateSkipped, byID["13"].State)
}

func TestRunsAggregatesCounts(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	token, err := j.BeginRun(ctx)
	require.NoError(t, err)

	report := funding.Report{
		Success: []funding.Outcome{{IBAN: "NL01", Amount: decimal.RequireFromString("100")}},
		Skipped: []funding.Outcome{
			{IBAN: "NL02", Amount: decimal.Zero, Reason: "nothing to fund"},
			{IBAN: "NL03", Amount: decimal.RequireFromString("50"), Reason: "identity not provisioned"},
		},
	}
	require.NoError(t, j.RecordFunding(ctx, token, report))

	runs, err := j.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Success)
	assert.Equal(t, 0, runs[0].Failed)
	assert.Equal(t, 2, runs[0].Skipped)
}

func TestLatestRun(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	latest, err := j.LatestRun(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest, "empty journal has no latest run")

	_, err = j.BeginRun(ctx)
	require.NoError(t, err)
	second, err := j.BeginRun(ctx)
	require.NoError(t, err)

	latest, err = j.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latest, "v7 tokens sort by creation time")
}

func TestOutcomesOrderedByPhase(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	token, err := j.BeginRun(ctx)
	require.NoError(t, err)

	require.NoError(t, j.RecordOutcome(ctx, token, PhaseReplay, "1", StateSuccess, "", ""))
	require.NoError(t, j.RecordOutcome(ctx, token, PhaseProvision, "NL01", StateSuccess, "", ""))
	require.NoError(t, j.RecordOutcome(ctx, token, PhaseFunding, "NL01", StateSuccess, "", ""))

	rows, err := j.Outcomes(ctx, token)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, PhaseProvision, rows[0].Phase)
	assert.Equal(t, PhaseFunding, rows[1].Phase)
	assert.Equal(t, PhaseReplay, rows[2].Phase)
}
