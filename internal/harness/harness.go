package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/marker"
	"github.com/roach88/markwatch/internal/reconcile"
	"github.com/roach88/markwatch/internal/testutil"
)

// DefaultLedgerPage is used when a scenario names none.
const DefaultLedgerPage = "Gebruiker:MeebezigBot/Overzicht"

// Harness executes one scenario against an in-memory wiki.
type Harness struct {
	scenario *Scenario
	wiki     *testutil.FakeCorpus
	clock    *testutil.FixedClock
	rec      *reconcile.Reconciler
	ledger   string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory wiki. A returned error
// means the scenario could not be executed at all; failed expectations
// are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	return h.run(context.Background())
}

func newHarness(s *Scenario) (*Harness, error) {
	clock := testutil.NewFixedClock(s.Now)
	wiki := testutil.NewFakeCorpus()
	wiki.Clock = clock

	name := s.Settings.Marker
	if name == "" {
		name = "meebezig"
	}
	m, err := marker.New(name, marker.DefaultSpacePrefix)
	if err != nil {
		return nil, fmt.Errorf("marker: %w", err)
	}

	ledgerPage := s.Settings.LedgerPage
	if ledgerPage == "" {
		ledgerPage = DefaultLedgerPage
	}
	agent := s.Settings.Agent
	if agent == "" {
		agent = "MeebezigBot"
	}
	wiki.Author = agent

	ids := make([]string, len(s.Cycles))
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", s.Name, i+1)
	}

	rec, err := reconcile.New(wiki, reconcile.Options{
		Marker:           m,
		LedgerPage:       ledgerPage,
		Threshold:        s.Settings.Threshold,
		RecentEditGrace:  s.Settings.RecentEditGrace,
		Agent:            agent,
		DeliverReminders: !s.Settings.DryRun,
		PersistLedger:    !s.Settings.DryRun,
		StripOverdue:     s.Settings.StripOverdue,
		OperatorPage:     s.Settings.OperatorPage,
	},
		reconcile.WithClock(clock),
		reconcile.WithRunIDGenerator(reconcile.NewFixedGenerator(ids...)),
	)
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	if s.Setup.Ledger != "" {
		wiki.SetPage(ledgerPage, s.Setup.Ledger)
	}
	for _, p := range s.Setup.Pages {
		wiki.SetPage(p.Title, p.Text)
	}
	for _, d := range s.Setup.Documents {
		for i, r := range d.Revisions {
			wiki.Edit(d.Title, r.Author, r.At, r.Text)
			if r.Hidden {
				wiki.HideText(d.Title, i)
			}
		}
	}

	return &Harness{scenario: s, wiki: wiki, clock: clock, rec: rec, ledger: ledgerPage}, nil
}

func (h *Harness) run(ctx context.Context) (*Result, error) {
	result := NewResult()

	for i, c := range h.scenario.Cycles {
		h.clock.Advance(c.Advance)
		for _, e := range c.Edits {
			h.wiki.Edit(e.Title, e.Author, e.At, e.Text)
		}
		for _, title := range c.Deletes {
			h.wiki.Delete(title)
		}
		for _, f := range c.Failures {
			h.wiki.Fail(f.Op, f.Title, failureError(f))
		}

		rep, err := h.rec.Run(ctx)
		if err != nil && !reconcile.IsRunLevel(err) {
			return nil, fmt.Errorf("cycle %d: %w", i+1, err)
		}
		for _, f := range c.Failures {
			h.wiki.Fail(f.Op, f.Title, nil)
		}

		if err := h.rec.ReportToOperator(ctx, rep); err != nil {
			result.AddError(fmt.Sprintf("cycle %d: operator report: %v", i+1, err))
		}
		result.Reports = append(result.Reports, rep)

		if c.Expect != nil {
			checkCycle(result, i+1, c.Expect, rep)
		}
	}

	result.Ledger, _ = h.wiki.Page(h.ledger)
	result.Writes = h.wiki.Writes()

	for i, a := range h.scenario.Assertions {
		if err := evaluateAssertion(h, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return result, nil
}

func failureError(f Failure) error {
	msg := f.Error
	if msg == "" {
		msg = "injected failure"
	}
	if f.NotFound {
		return fmt.Errorf("%s: %w", msg, corpus.ErrNotFound)
	}
	return errors.New(msg)
}

func checkCycle(result *Result, n int, want *CycleExpect, rep *reconcile.Report) {
	fail := func(format string, args ...any) {
		result.AddError(fmt.Sprintf("cycle %d: ", n) + fmt.Sprintf(format, args...))
	}

	if want.Aborted != nil && *want.Aborted != (rep.Err != nil) {
		fail("aborted = %v, want %v (err: %v)", rep.Err != nil, *want.Aborted, rep.Err)
	}
	if want.LedgerWritten != nil && *want.LedgerWritten != rep.LedgerWritten {
		fail("ledger_written = %v, want %v", rep.LedgerWritten, *want.LedgerWritten)
	}
	if want.LiveDocuments != nil && *want.LiveDocuments != rep.LiveDocuments {
		fail("live_documents = %d, want %d", rep.LiveDocuments, *want.LiveDocuments)
	}
	if want.OpenEntries != nil && *want.OpenEntries != rep.OpenEntries {
		fail("open_entries = %d, want %d", rep.OpenEntries, *want.OpenEntries)
	}
	if want.SkippedRows != nil && *want.SkippedRows != rep.SkippedRows {
		fail("skipped_rows = %d, want %d", rep.SkippedRows, *want.SkippedRows)
	}

	for _, o := range want.Outcomes {
		if !hasOutcome(rep, o) {
			fail("missing outcome %s %s: %s (got %v)", o.Phase, o.Document, o.Outcome, rep.Results)
		}
	}
}

func hasOutcome(rep *reconcile.Report, o Outcome) bool {
	for _, res := range rep.Results {
		if res.Document == o.Document && string(res.Phase) == o.Phase && string(res.Outcome) == o.Outcome {
			return true
		}
	}
	return false
}
