package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/history"
	"github.com/roach88/markwatch/internal/ledger"
	"github.com/roach88/markwatch/internal/marker"
	"github.com/roach88/markwatch/internal/notify"
)

// DefaultThreshold is how long a marker may stay before its adder is
// reminded.
const DefaultThreshold = 7 * 24 * time.Hour

// DeletedAuthor is the synthetic remover recorded when the document
// itself was deleted.
const DeletedAuthor = "Pagina verwijderd"

// DefaultLedgerSummary is the edit summary for ledger updates.
const DefaultLedgerSummary = "Bot: bijwerken overzicht meebezig-sjablonen"

// DefaultStripSummary is the edit summary used when stripping an overdue marker.
const DefaultStripSummary = "Bot: sjabloon {{meebezig}} langer dan een week aanwezig zonder recente bewerkingen."

// Options configures a Reconciler. All behavior toggles are explicit
// values; there is no process-wide dry-run switch.
type Options struct {
	Marker     *marker.Matcher
	Namespaces []int

	LedgerPage    string
	LedgerSummary string

	// Threshold is the marker age at which a reminder is due.
	Threshold time.Duration

	// RecentEditGrace postpones reminders for documents edited within
	// this window. Zero disables the check.
	RecentEditGrace time.Duration

	// Agent is this bot's account name, checked against exclusion
	// directives.
	Agent string

	Composer *notify.Composer

	// DeliverReminders writes reminders and operator reports; when false
	// the intended edits are only logged.
	DeliverReminders bool

	// PersistLedger writes the ledger page when it changed.
	PersistLedger bool

	// StripOverdue removes the marker from overdue documents after the
	// reminder step. Honors DeliverReminders.
	StripOverdue bool
	StripSummary string

	// OperatorPage receives a report when a run fails. Empty disables.
	OperatorPage string
}

func (o *Options) applyDefaults() {
	if o.Marker == nil {
		o.Marker = marker.MustNew("meebezig", marker.DefaultSpacePrefix)
	}
	if o.Namespaces == nil {
		o.Namespaces = []int{0}
	}
	if o.LedgerSummary == "" {
		o.LedgerSummary = DefaultLedgerSummary
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Composer == nil {
		o.Composer = notify.NewComposer("", "", "")
	}
	if o.StripSummary == "" {
		o.StripSummary = DefaultStripSummary
	}
}

// Reconciler runs reconciliation cycles against a corpus.
type Reconciler struct {
	corpus corpus.Corpus
	opts   Options
	clock  Clock
	ids    RunIDGenerator
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Reconciler) {
		r.clock = c
	}
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(r *Reconciler) {
		r.ids = g
	}
}

// New creates a Reconciler. opts.LedgerPage is required.
func New(c corpus.Corpus, opts Options, options ...Option) (*Reconciler, error) {
	if c == nil {
		return nil, errors.New("reconcile: corpus is nil")
	}
	if opts.LedgerPage == "" {
		return nil, errors.New("reconcile: ledger page is required")
	}
	opts.applyDefaults()

	r := &Reconciler{
		corpus: c,
		opts:   opts,
		clock:  SystemClock{},
		ids:    UUIDv7Generator{},
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// presence is what pass 1 learned about a live document.
type presence int

const (
	presenceUnknown presence = iota
	presenceConfirmed
	presenceAbsent
)

// cycle holds the state owned by one run.
type cycle struct {
	log    *slog.Logger
	now    time.Time
	snap   *ledger.Snapshot
	state  map[string]presence
	report *Report
}

// Run executes one reconciliation cycle.
//
// The returned report is never nil. A non-nil error means the cycle was
// aborted before the ledger could be reconciled (ErrCodeRunLevel); the
// report then carries the same error.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: r.ids.Generate(), StartedAt: r.clock.Now()}
	log := slog.Default().With("run", rep.RunID)
	log.Info("reconciliation starting", "marker", r.opts.Marker.Name(), "ledger", r.opts.LedgerPage)

	fail := func(err *Error) (*Report, error) {
		rep.Err = err
		rep.FinishedAt = r.clock.Now()
		log.Error("reconciliation aborted", "error", err)
		return rep, err
	}

	live, err := r.corpus.LookupReferences(ctx, r.opts.Marker.Name(), r.opts.Namespaces)
	if err != nil {
		return fail(newRunError("lookup live set", err))
	}

	page, err := r.corpus.ReadPage(ctx, r.opts.LedgerPage)
	if err != nil {
		if !corpus.IsNotFound(err) {
			return fail(newRunError("read ledger", err))
		}
		log.Warn("ledger page does not exist yet, starting empty", "page", r.opts.LedgerPage)
		page = corpus.Page{Title: r.opts.LedgerPage}
	}

	snap, rowErrs := ledger.Parse(page.Text)
	for _, rowErr := range rowErrs {
		log.Warn("skipping ledger row", "line", rowErr.Line, "reason", rowErr.Reason, "row", rowErr.Text)
	}
	rep.SkippedRows = len(rowErrs)
	canonicalizeSnapshot(log, snap)

	c := &cycle{
		log:    log,
		now:    r.clock.Now(),
		snap:   snap,
		state:  make(map[string]presence),
		report: rep,
	}

	docs := uniqueTitles(live)
	rep.LiveDocuments = len(docs)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return fail(newRunError("pass 1", err))
		}
		r.reconcileLive(ctx, c, doc)
	}

	for _, doc := range snap.Documents() {
		if err := ctx.Err(); err != nil {
			return fail(newRunError("pass 2", err))
		}
		r.reconcileLedger(ctx, c, doc)
	}

	r.persist(ctx, c, page)

	rep.LedgerEntries = snap.Len()
	rep.OpenEntries = snap.OpenCount()
	rep.FinishedAt = r.clock.Now()
	log.Info("reconciliation finished",
		"live", rep.LiveDocuments,
		"entries", rep.LedgerEntries,
		"open", rep.OpenEntries,
		"ledger_changed", rep.LedgerChanged,
		"failures", len(rep.Failures()),
	)
	return rep, nil
}

// reconcileLive is pass 1 for one live document.
func (r *Reconciler) reconcileLive(ctx context.Context, c *cycle, doc string) {
	log := c.log.With("document", doc)

	text, err := r.corpus.DocumentText(ctx, doc)
	if err != nil {
		c.state[doc] = presenceUnknown
		if corpus.IsNotFound(err) {
			log.Info("document vanished since lookup")
			c.report.add(Result{Document: doc, Phase: PhaseAdd, Outcome: OutcomeSkipped, Reason: "document vanished", Err: newDocumentError("fetch text", doc, err)})
			return
		}
		log.Error("failed to fetch document text", "error", err)
		c.report.add(Result{Document: doc, Phase: PhaseAdd, Outcome: OutcomeFailed, Err: newDocumentError("fetch text", doc, err)})
		return
	}

	if !r.opts.Marker.Exists(text) {
		c.state[doc] = presenceAbsent
		log.Debug("document references the marker but its text does not carry it")
		c.report.add(Result{Document: doc, Phase: PhaseAdd, Outcome: OutcomeAbsent, Reason: "marker not in text"})
		return
	}
	c.state[doc] = presenceConfirmed

	entry, known := c.snap.Get(doc)
	if !known || !entry.Open() {
		added, ok := r.attributeAddition(ctx, c, doc)
		if !ok {
			return
		}
		entry = added
	}

	if entry.Age(c.now) >= r.opts.Threshold {
		r.remind(ctx, c, entry)
	}
}

// attributeAddition walks the history and records a new open entry.
func (r *Reconciler) attributeAddition(ctx context.Context, c *cycle, doc string) (ledger.Entry, bool) {
	log := c.log.With("document", doc)

	revs, err := r.corpus.RevisionHistory(ctx, doc, true)
	if err != nil {
		log.Error("failed to fetch revision history", "error", err)
		c.report.add(Result{Document: doc, Phase: PhaseAdd, Outcome: OutcomeFailed, Err: newDocumentError("fetch history", doc, err)})
		return ledger.Entry{}, false
	}

	attr, err := history.FindAddition(revs, r.opts.Marker)
	if err != nil {
		log.Warn("addition not attributable, deferring", "error", err)
		c.report.add(Result{Document: doc, Phase: PhaseAdd, Outcome: OutcomeDeferred, Reason: "addition not attributable", Err: newDocumentError("attribute addition", doc, err)})
		return ledger.Entry{}, false
	}
	if attr.Author == "" {
		log.Warn("adding revision has no visible author, deferring")
		c.report.add(Result{Document: doc, Phase: PhaseAdd, Outcome: OutcomeDeferred, Reason: "author hidden"})
		return ledger.Entry{}, false
	}
	if ledger.IsNotApplicable(attr.Author) {
		log.Warn("adding author collides with the ledger sentinel, deferring", "author", attr.Author)
		c.report.add(Result{Document: doc, Phase: PhaseAdd, Outcome: OutcomeDeferred, Reason: "author not storable"})
		return ledger.Entry{}, false
	}

	reason := "new"
	if prev, known := c.snap.Get(doc); known && !prev.Open() {
		reason = "re-added"
	}

	entry := ledger.Entry{Document: doc, AddedBy: attr.Author, AddedAt: attr.At}
	c.snap.Put(entry)
	log.Info("marker addition recorded", "author", attr.Author, "at", ledger.FormatTime(attr.At), "reason", reason)
	c.report.add(Result{Document: doc, Phase: PhaseAdd, Outcome: OutcomeInserted, Reason: reason})
	return entry, true
}

// reconcileLedger is pass 2 for one ledger entry.
func (r *Reconciler) reconcileLedger(ctx context.Context, c *cycle, doc string) {
	// Documents confirmed present, or whose state could not be read this
	// run, are left untouched.
	if st, live := c.state[doc]; live && st != presenceAbsent {
		return
	}

	log := c.log.With("document", doc)
	entry, _ := c.snap.Get(doc)

	if !entry.Open() {
		c.snap.Delete(doc)
		log.Info("purged resolved entry", "removed_by", entry.RemovedBy)
		c.report.add(Result{Document: doc, Phase: PhasePurge, Outcome: OutcomePurged})
		return
	}

	latest, err := r.corpus.LatestRevision(ctx, doc)
	if err != nil {
		if corpus.IsNotFound(err) {
			entry.Close(DeletedAuthor, c.now)
			c.snap.Put(entry)
			log.Info("document deleted, entry closed")
			c.report.add(Result{Document: doc, Phase: PhaseRemove, Outcome: OutcomeClosed, Reason: "document deleted"})
			return
		}
		log.Error("failed to fetch latest revision", "error", err)
		c.report.add(Result{Document: doc, Phase: PhaseRemove, Outcome: OutcomeFailed, Err: newDocumentError("fetch latest revision", doc, err)})
		return
	}

	attr, err := history.FindRemoval([]corpus.Revision{latest})
	if err == nil && ledger.IsNotApplicable(attr.Author) {
		err = fmt.Errorf("revision %d author %q is not storable", latest.ID, attr.Author)
	}
	if err != nil || attr.Author == "" {
		if err == nil {
			err = fmt.Errorf("revision %d has no visible author", latest.ID)
		}
		log.Warn("removal not attributable, deferring", "error", err)
		c.report.add(Result{Document: doc, Phase: PhaseRemove, Outcome: OutcomeDeferred, Reason: "removal not attributable", Err: newDocumentError("attribute removal", doc, err)})
		return
	}

	entry.Close(attr.Author, attr.At)
	c.snap.Put(entry)
	log.Info("marker removal recorded", "author", attr.Author, "at", ledger.FormatTime(entry.RemovedAt))
	c.report.add(Result{Document: doc, Phase: PhaseRemove, Outcome: OutcomeClosed})
}

// persist writes the ledger when its text changed. The write is based on
// the revision read at the start of the run; if the page changed since,
// it fails and the next run reconciles against the newer ledger.
func (r *Reconciler) persist(ctx context.Context, c *cycle, page corpus.Page) {
	text := ledger.Format(c.snap)
	if text == page.Text {
		c.log.Info("ledger unchanged")
		return
	}
	c.report.LedgerChanged = true

	if !r.opts.PersistLedger {
		c.log.Info("dry run: ledger changed but not written", "page", r.opts.LedgerPage)
		c.report.add(Result{Document: r.opts.LedgerPage, Phase: PhaseLedger, Outcome: OutcomeSkipped, Reason: "dry run"})
		return
	}

	if err := r.corpus.WritePage(ctx, r.opts.LedgerPage, text, r.opts.LedgerSummary, page.Timestamp); err != nil {
		if corpus.IsEditConflict(err) {
			c.log.Warn("ledger page changed during the run, not written", "page", r.opts.LedgerPage, "error", err)
		} else {
			c.log.Error("failed to write ledger", "page", r.opts.LedgerPage, "error", err)
		}
		c.report.add(Result{Document: r.opts.LedgerPage, Phase: PhaseLedger, Outcome: OutcomeFailed, Err: newDocumentError("write ledger", r.opts.LedgerPage, err)})
		return
	}
	c.report.LedgerWritten = true
	c.log.Info("ledger written", "page", r.opts.LedgerPage, "entries", c.snap.Len())
	c.report.add(Result{Document: r.opts.LedgerPage, Phase: PhaseLedger, Outcome: OutcomeWritten})
}

// uniqueTitles canonicalizes, de-duplicates and sorts the live set.
func uniqueTitles(titles []string) []string {
	seen := make(map[string]bool, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		t = corpus.CanonicalTitle(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// canonicalizeSnapshot re-keys hand-edited ledger rows ("[[example]]")
// under their canonical title. On collision the existing canonical row wins.
func canonicalizeSnapshot(log *slog.Logger, snap *ledger.Snapshot) {
	for _, doc := range snap.Documents() {
		canon := corpus.CanonicalTitle(doc)
		if canon == doc {
			continue
		}
		entry, _ := snap.Get(doc)
		snap.Delete(doc)
		if _, exists := snap.Get(canon); exists {
			log.Warn("dropping duplicate ledger row", "document", doc, "canonical", canon)
			continue
		}
		entry.Document = canon
		snap.Put(entry)
		log.Info("canonicalized ledger row", "document", doc, "canonical", canon)
	}
}
