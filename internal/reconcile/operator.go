package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/notify"
)

// ReportToOperator appends a failure report to the operator page when the
// run failed. Successful runs leave no report. Without DeliverReminders
// the report is only logged.
func (r *Reconciler) ReportToOperator(ctx context.Context, rep *Report) error {
	if rep == nil || !rep.Failed() || r.opts.OperatorPage == "" {
		return nil
	}

	report := notify.ComposeOperatorReport(r.clock.Now(), rep.RunID, rep.Details())
	log := slog.Default().With("run", rep.RunID, "page", r.opts.OperatorPage)

	if !r.opts.DeliverReminders {
		log.Info("dry run: would post operator report", "heading", report.Heading, "body", report.Body)
		return nil
	}

	page, err := r.corpus.ReadPage(ctx, r.opts.OperatorPage)
	if err != nil {
		if !corpus.IsNotFound(err) {
			return fmt.Errorf("read operator page: %w", err)
		}
		page = corpus.Page{Title: r.opts.OperatorPage}
	}

	if err := r.corpus.AppendPage(ctx, r.opts.OperatorPage, report.AppendText(page.Text), report.Summary); err != nil {
		return fmt.Errorf("write operator report: %w", err)
	}
	log.Info("operator report posted")
	return nil
}
