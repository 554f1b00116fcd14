package harness

import (
	"github.com/roach88/markwatch/internal/reconcile"
	"github.com/roach88/markwatch/internal/testutil"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every cycle expectation and assertion held.
	Pass bool

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string

	// Reports holds one report per cycle.
	Reports []*reconcile.Report

	// Ledger is the ledger page text after the last cycle.
	Ledger string

	// Writes are all page writes made during the scenario.
	Writes []testutil.Write
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
