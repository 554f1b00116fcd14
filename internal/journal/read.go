package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one journaled run.
type RunRecord struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	LiveDocuments int       `json:"live_documents"`
	LedgerEntries int       `json:"ledger_entries"`
	OpenEntries   int       `json:"open_entries"`
	SkippedRows   int       `json:"skipped_rows"`
	LedgerChanged bool      `json:"ledger_changed"`
	LedgerWritten bool      `json:"ledger_written"`
	Failed        bool      `json:"failed"`
	Error         string    `json:"error,omitempty"`
}

// OutcomeRecord is one journaled per-document result.
type OutcomeRecord struct {
	RunID    string `json:"run_id"`
	Seq      int    `json:"seq"`
	Document string `json:"document"`
	Phase    string `json:"phase"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RecentRuns returns up to limit runs, newest first.
// Returns an empty slice (not nil) when the journal is empty.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, live_documents, ledger_entries, open_entries,
		       skipped_rows, ledger_changed, ledger_written, failed, error
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Outcomes returns the results of one run in recorded order.
func (j *Journal) Outcomes(ctx context.Context, runID string) ([]OutcomeRecord, error) {
	return j.queryOutcomes(ctx, `
		SELECT run_id, seq, document, phase, outcome, reason, code, error
		FROM outcomes
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
}

// DocumentOutcomes returns every journaled result for a document, oldest
// run first.
func (j *Journal) DocumentOutcomes(ctx context.Context, document string) ([]OutcomeRecord, error) {
	return j.queryOutcomes(ctx, `
		SELECT o.run_id, o.seq, o.document, o.phase, o.outcome, o.reason, o.code, o.error
		FROM outcomes o
		JOIN runs r ON o.run_id = r.id
		WHERE o.document = ?
		ORDER BY r.started_at ASC, o.seq ASC
	`, document)
}

func (j *Journal) queryOutcomes(ctx context.Context, query string, arg string) ([]OutcomeRecord, error) {
	rows, err := j.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := []OutcomeRecord{}
	for rows.Next() {
		var o OutcomeRecord
		if err := rows.Scan(&o.RunID, &o.Seq, &o.Document, &o.Phase, &o.Outcome, &o.Reason, &o.Code, &o.Error); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

func scanRun(rows *sql.Rows) (RunRecord, error) {
	var (
		rec                     RunRecord
		started, finished       string
		changed, written, fails int
	)
	err := rows.Scan(&rec.ID, &started, &finished, &rec.LiveDocuments, &rec.LedgerEntries,
		&rec.OpenEntries, &rec.SkippedRows, &changed, &written, &fails, &rec.Error)
	if err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	if rec.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return RunRecord{}, fmt.Errorf("parse started_at of run %s: %w", rec.ID, err)
	}
	if rec.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return RunRecord{}, fmt.Errorf("parse finished_at of run %s: %w", rec.ID, err)
	}
	rec.LedgerChanged = changed != 0
	rec.LedgerWritten = written != 0
	rec.Failed = fails != 0
	return rec, nil
}
