package reconcile

import (
	"context"

	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/exclusion"
	"github.com/roach88/markwatch/internal/history"
	"github.com/roach88/markwatch/internal/ledger"
)

// remind runs the reminder workflow for an overdue open entry.
//
// Delivery is idempotent by content: the talk page is re-read on every
// run and a reminder is only appended when the page does not yet mention
// the document. Nothing about delivery is stored in the ledger.
func (r *Reconciler) remind(ctx context.Context, c *cycle, entry ledger.Entry) {
	doc := entry.Document
	log := c.log.With("document", doc, "adder", entry.AddedBy)

	if r.opts.RecentEditGrace > 0 {
		latest, err := r.corpus.LatestRevision(ctx, doc)
		if err != nil {
			log.Error("failed to fetch latest revision", "error", err)
			c.report.add(Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeFailed, Err: newDocumentError("fetch latest revision", doc, err)})
			return
		}
		lastEdit, err := history.ParseTimestamp(latest.Timestamp)
		if err != nil {
			err = &history.TimestampError{RevisionID: latest.ID, Value: latest.Timestamp, Err: err}
			log.Warn("last edit time unparseable, deferring reminder", "error", err)
			c.report.add(Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeDeferred, Reason: "last edit time unparseable", Err: newDocumentError("check recent edit", doc, err)})
			return
		}
		if c.now.Sub(lastEdit) < r.opts.RecentEditGrace {
			log.Info("document recently edited, reminder postponed", "last_edit", ledger.FormatTime(lastEdit))
			c.report.add(Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeRecentlyEdited})
			return
		}
	}

	log.Info("marker overdue", "added_at", ledger.FormatTime(entry.AddedAt), "age", entry.Age(c.now).String())
	c.report.add(r.deliverReminder(ctx, c, entry))

	if r.opts.StripOverdue {
		c.report.add(r.strip(ctx, c, doc))
	}
}

func (r *Reconciler) deliverReminder(ctx context.Context, c *cycle, entry ledger.Entry) Result {
	doc := entry.Document
	talkPage := r.opts.Composer.TalkPage(entry.AddedBy)
	log := c.log.With("document", doc, "talk_page", talkPage)

	talk, err := r.corpus.ReadPage(ctx, talkPage)
	if err != nil {
		if !corpus.IsNotFound(err) {
			log.Error("failed to read talk page", "error", err)
			return Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeFailed, Err: newDocumentError("read talk page", doc, err)}
		}
		talk = corpus.Page{Title: talkPage}
	}

	if exclusion.IsDenied(talk.Text, r.opts.Agent) {
		log.Info("talk page opts out of bot messages")
		return Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeDenied, Reason: "exclusion directive"}
	}

	notice := r.opts.Composer.Compose(entry)
	if notice.AlreadyDelivered(talk.Text) {
		log.Info("reminder already present on talk page")
		return Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeAlreadyNotified}
	}

	if !r.opts.DeliverReminders {
		log.Info("dry run: would deliver reminder", "text", notice.Text, "summary", notice.Summary)
		return Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeWouldRemind}
	}

	if err := r.corpus.AppendPage(ctx, talkPage, notice.AppendText(talk.Text), notice.Summary); err != nil {
		log.Error("failed to deliver reminder", "error", err)
		return Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeFailed, Err: newDocumentError("write talk page", doc, err)}
	}
	log.Info("reminder delivered", "recipient", notice.Recipient)
	return Result{Document: doc, Phase: PhaseRemind, Outcome: OutcomeReminded}
}

// strip removes the overdue marker from the document text. The write is
// based on the revision that was read, so a concurrent edit makes it fail
// instead of being overwritten.
func (r *Reconciler) strip(ctx context.Context, c *cycle, doc string) Result {
	log := c.log.With("document", doc)

	page, err := r.corpus.ReadPage(ctx, doc)
	if err != nil {
		log.Error("failed to fetch document for stripping", "error", err)
		return Result{Document: doc, Phase: PhaseStrip, Outcome: OutcomeFailed, Err: newDocumentError("fetch text", doc, err)}
	}

	stripped := r.opts.Marker.Strip(page.Text)
	if stripped == page.Text {
		return Result{Document: doc, Phase: PhaseStrip, Outcome: OutcomeSkipped, Reason: "nothing to strip"}
	}

	if !r.opts.DeliverReminders {
		log.Info("dry run: would strip marker")
		return Result{Document: doc, Phase: PhaseStrip, Outcome: OutcomeSkipped, Reason: "dry run"}
	}

	if err := r.corpus.WritePage(ctx, doc, stripped, r.opts.StripSummary, page.Timestamp); err != nil {
		if corpus.IsEditConflict(err) {
			log.Warn("document changed while stripping, retrying next run", "error", err)
		} else {
			log.Error("failed to strip marker", "error", err)
		}
		return Result{Document: doc, Phase: PhaseStrip, Outcome: OutcomeFailed, Err: newDocumentError("strip marker", doc, err)}
	}
	log.Info("marker stripped")
	return Result{Document: doc, Phase: PhaseStrip, Outcome: OutcomeStripped}
}
