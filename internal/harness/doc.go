// Package harness runs YAML scenarios against the reconciler.
//
// A scenario seeds an in-memory wiki (documents with revision history,
// talk pages, an initial ledger), then executes one or more
// reconciliation cycles under a fixed clock. Each cycle may first
// advance the clock, edit or delete documents and inject failures.
// After the last cycle the assertions are evaluated and the final ledger
// page can be compared against a golden file.
//
// Scenarios are fully deterministic: run ids come from the scenario name
// and cycle number, and all times are explicit.
package harness
