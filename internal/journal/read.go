package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RunSummary is one run with its outcome counts.
type RunSummary struct {
	Token     string `json:"token"`
	StartedAt string `json:"started_at"`
	Success   int    `json:"success"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// Row is one recorded outcome.
type Row struct {
	Phase      string `json:"phase"`
	Subject    string `json:"subject"`
	State      string `json:"state"`
	Amount     string `json:"amount,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// Runs lists all runs, oldest first. UUIDv7 tokens sort by creation
// time, matching started_at order.
func (j *Journal) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.token, r.started_at,
		       COALESCE(SUM(o.state = 'success'), 0),
		       COALESCE(SUM(o.state = 'failed'), 0),
		       COALESCE(SUM(o.state = 'skipped'), 0)
		FROM runs r
		LEFT JOIN outcomes o ON o.run_token = r.token
		GROUP BY r.token
		ORDER BY r.token
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		if err := rows.Scan(&run.Token, &run.StartedAt, &run.Success, &run.Failed, &run.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recent run token, or "" when the journal
// is empty.
func (j *Journal) LatestRun(ctx context.Context) (string, error) {
	var token string
	err := j.db.QueryRowContext(ctx, `SELECT token FROM runs ORDER BY token DESC LIMIT 1`).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return token, nil
}

// Outcomes returns every outcome of a run, grouped by phase in pipeline
// order, then by subject.
func (j *Journal) Outcomes(ctx context.Context, runToken string) ([]Row, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT phase, subject, state, amount, detail, recorded_at
		FROM outcomes
		WHERE run_token = ?
		ORDER BY
			CASE phase WHEN 'provision' THEN 0 WHEN 'funding' THEN 1 ELSE 2 END,
			subject
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Phase, &row.Subject, &row.State, &row.Amount, &row.Detail, &row.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	return out, nil
}
