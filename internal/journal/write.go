package journal

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nevolodia/bunq-sandman/internal/funding"
	"github.com/nevolodia/bunq-sandman/internal/registry"
	"github.com/nevolodia/bunq-sandman/internal/replay"
)

// Phases a run records outcomes under.
const (
	PhaseProvision = "provision"
	PhaseFunding   = "funding"
	PhaseReplay    = "replay"
)

// Outcome states.
const (
	StateSuccess = "success"
	StateFailed  = "failed"
	StateSkipped = "skipped"
)

// BeginRun registers a new run and returns its token.
func (j *Journal) BeginRun(ctx context.Context) (string, error) {
	token := NewRunToken()
	if _, err := j.db.ExecContext(ctx, `INSERT INTO runs (token) VALUES (?)`, token); err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return token, nil
}

// RecordOutcome inserts one outcome row.
// Uses ON CONFLICT DO NOTHING for idempotency: re-recording the same
// (run, phase, subject) is silently ignored, so a retried phase never
// duplicates its ledger rows.
func (j *Journal) RecordOutcome(ctx context.Context, runToken, phase, subject, state, amount, detail string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO outcomes (run_token, phase, subject, state, amount, detail)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token, phase, subject) DO NOTHING
	`, runToken, phase, subject, state, amount, detail)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// RecordProvisioning writes a provisioning report under the run.
func (j *Journal) RecordProvisioning(ctx context.Context, runToken string, report registry.ProvisionReport) error {
	write := func(outcomes []registry.ProvisionOutcome, state string) error {
		for _, out := range outcomes {
			detail := out.Reason
			if state == StateSuccess {
				detail = out.SyntheticIBAN
			}
			if err := j.RecordOutcome(ctx, runToken, PhaseProvision, out.IBAN, state, "", detail); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(report.Success, StateSuccess); err != nil {
		return err
	}
	if err := write(report.Failed, StateFailed); err != nil {
		return err
	}
	return write(report.Skipped, StateSkipped)
}

// RecordFunding writes a funding report under the run.
func (j *Journal) RecordFunding(ctx context.Context, runToken string, report funding.Report) error {
	write := func(outcomes []funding.Outcome, state string) error {
		for _, out := range outcomes {
			if err := j.RecordOutcome(ctx, runToken, PhaseFunding, out.IBAN, state, out.Amount.StringFixed(2), out.Reason); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(report.Success, StateSuccess); err != nil {
		return err
	}
	if err := write(report.Failed, StateFailed); err != nil {
		return err
	}
	return write(report.Skipped, StateSkipped)
}

// RecordReplay writes a replay report under the run. Subjects are the
// original transaction ids.
func (j *Journal) RecordReplay(ctx context.Context, runToken string, report replay.Report) error {
	write := func(outcomes []replay.Outcome, state string) error {
		for _, out := range outcomes {
			detail := out.Reason
			if state == StateSuccess {
				detail = "new id " + strconv.FormatInt(out.NewID, 10)
			}
			subject := strconv.FormatInt(out.OriginalID, 10)
			amount := out.Amount.StringFixed(2)
			if out.Currency != "" {
				amount += " " + out.Currency
			}
			if err := j.RecordOutcome(ctx, runToken, PhaseReplay, subject, state, amount, detail); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(report.Replayed, StateSuccess); err != nil {
		return err
	}
	if err := write(report.Failed, StateFailed); err != nil {
		return err
	}
	return write(report.Skipped, StateSkipped)
}
