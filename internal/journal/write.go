package journal

import (
	"context"
	"fmt"

	"github.com/roach88/markwatch/internal/reconcile"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordRun stores a run report and its per-document results.
// Uses ON CONFLICT DO NOTHING: recording a run id a second time is a no-op.
func (j *Journal) RecordRun(ctx context.Context, rep *reconcile.Report) error {
	if rep == nil || rep.RunID == "" {
		return fmt.Errorf("record run: report has no run id")
	}

	errText := ""
	if rep.Err != nil {
		errText = rep.Err.Error()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, started_at, finished_at, live_documents, ledger_entries, open_entries,
		 skipped_rows, ledger_changed, ledger_written, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rep.RunID,
		rep.StartedAt.UTC().Format(timeLayout),
		rep.FinishedAt.UTC().Format(timeLayout),
		rep.LiveDocuments,
		rep.LedgerEntries,
		rep.OpenEntries,
		rep.SkippedRows,
		boolInt(rep.LedgerChanged),
		boolInt(rep.LedgerWritten),
		boolInt(rep.Failed()),
		errText,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record run: rows affected: %w", err)
	}
	if n == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes
		(run_id, seq, document, phase, outcome, reason, code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record run: prepare outcomes: %w", err)
	}
	defer stmt.Close()

	for i, r := range rep.Results {
		resErr := ""
		if r.Err != nil {
			resErr = r.Err.Error()
		}
		_, err := stmt.ExecContext(ctx,
			rep.RunID,
			i,
			r.Document,
			string(r.Phase),
			string(r.Outcome),
			r.Reason,
			string(r.Code()),
			resErr,
		)
		if err != nil {
			return fmt.Errorf("record run: outcome %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record run: commit: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
