package reconcile

import (
	"fmt"
	"time"
)

// Phase names the step of a run that produced a Result.
type Phase string

const (
	PhaseAdd    Phase = "add"
	PhaseRemind Phase = "remind"
	PhaseStrip  Phase = "strip"
	PhaseRemove Phase = "remove"
	PhasePurge  Phase = "purge"
	PhaseLedger Phase = "ledger"
)

// Outcome is what happened to a document in one phase.
type Outcome string

const (
	OutcomeInserted        Outcome = "inserted"
	OutcomeDeferred        Outcome = "deferred"
	OutcomeAbsent          Outcome = "absent"
	OutcomeReminded        Outcome = "reminded"
	OutcomeWouldRemind     Outcome = "would_remind"
	OutcomeAlreadyNotified Outcome = "already_notified"
	OutcomeDenied          Outcome = "denied"
	OutcomeRecentlyEdited  Outcome = "recently_edited"
	OutcomeStripped        Outcome = "stripped"
	OutcomeClosed          Outcome = "closed"
	OutcomePurged          Outcome = "purged"
	OutcomeWritten         Outcome = "written"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeFailed          Outcome = "failed"
)

// Result is the explicit outcome of one per-document step.
type Result struct {
	Document string
	Phase    Phase
	Outcome  Outcome
	Reason   string
	Err      error
}

// Code returns the error classification, or "" when Err is nil.
func (r Result) Code() ErrorCode {
	if r.Err == nil {
		return ""
	}
	return Classify(r.Err)
}

func (r Result) String() string {
	s := fmt.Sprintf("%s %s: %s", r.Phase, r.Document, r.Outcome)
	if r.Reason != "" {
		s += " (" + r.Reason + ")"
	}
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}

// Report summarizes one run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	LiveDocuments int
	LedgerEntries int
	OpenEntries   int
	SkippedRows   int

	LedgerChanged bool
	LedgerWritten bool

	Results []Result

	// Err is set when the run aborted (ErrCodeRunLevel).
	Err error
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

// Count returns how many results had outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failures returns the failed results.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// Failed reports whether the run aborted or any step failed.
func (r *Report) Failed() bool {
	return r.Err != nil || len(r.Failures()) > 0
}

// Details lists the run-level error and each failure, one line each.
func (r *Report) Details() []string {
	var out []string
	if r.Err != nil {
		out = append(out, r.Err.Error())
	}
	for _, res := range r.Failures() {
		out = append(out, res.String())
	}
	return out
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
