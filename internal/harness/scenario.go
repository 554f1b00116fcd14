package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end reconciliation test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the clock at the first cycle.
	Now time.Time `yaml:"now"`

	// Settings tune the reconciler. Zero values take the defaults.
	Settings Settings `yaml:"settings,omitempty"`

	// Setup seeds the wiki before the first cycle.
	Setup Setup `yaml:"setup"`

	// Cycles are executed in order. At least one is required.
	Cycles []Cycle `yaml:"cycles"`

	// Assertions validate the wiki after the last cycle.
	Assertions []Assertion `yaml:"assertions"`
}

// Settings mirror the reconciler options a scenario may change.
type Settings struct {
	Marker          string        `yaml:"marker,omitempty"`
	LedgerPage      string        `yaml:"ledger_page,omitempty"`
	Threshold       time.Duration `yaml:"threshold,omitempty"`
	RecentEditGrace time.Duration `yaml:"recent_edit_grace,omitempty"`
	Agent           string        `yaml:"agent,omitempty"`
	DryRun          bool          `yaml:"dry_run,omitempty"`
	StripOverdue    bool          `yaml:"strip_overdue,omitempty"`
	OperatorPage    string        `yaml:"operator_page,omitempty"`
}

// Setup is the initial wiki content.
type Setup struct {
	Ledger    string     `yaml:"ledger,omitempty"`
	Pages     []Page     `yaml:"pages,omitempty"`
	Documents []Document `yaml:"documents,omitempty"`
}

// Page is a page without history (talk pages, operator page).
type Page struct {
	Title string `yaml:"title"`
	Text  string `yaml:"text"`
}

// Document is a page with revision history.
type Document struct {
	Title     string     `yaml:"title"`
	Revisions []Revision `yaml:"revisions"`
}

// Revision is one edit. An empty author models a hidden user name;
// Hidden models suppressed text.
type Revision struct {
	Author string `yaml:"author"`
	At     string `yaml:"at"`
	Text   string `yaml:"text"`
	Hidden bool   `yaml:"hidden,omitempty"`
}

// Edit is a change applied between cycles.
type Edit struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
	At     string `yaml:"at"`
	Text   string `yaml:"text"`
}

// Failure makes a wiki operation fail during one cycle.
type Failure struct {
	Op    string `yaml:"op"`
	Title string `yaml:"title,omitempty"`
	Error string `yaml:"error"`
	// NotFound makes the failure a missing-page error.
	NotFound bool `yaml:"not_found,omitempty"`
}

// Cycle is one reconciliation run and what precedes it.
type Cycle struct {
	Advance  time.Duration `yaml:"advance,omitempty"`
	Edits    []Edit        `yaml:"edits,omitempty"`
	Deletes  []string      `yaml:"deletes,omitempty"`
	Failures []Failure     `yaml:"failures,omitempty"`
	Expect   *CycleExpect  `yaml:"expect,omitempty"`
}

// CycleExpect checks the report of one cycle.
type CycleExpect struct {
	Aborted       *bool     `yaml:"aborted,omitempty"`
	LedgerWritten *bool     `yaml:"ledger_written,omitempty"`
	LiveDocuments *int      `yaml:"live_documents,omitempty"`
	OpenEntries   *int      `yaml:"open_entries,omitempty"`
	SkippedRows   *int      `yaml:"skipped_rows,omitempty"`
	Outcomes      []Outcome `yaml:"outcomes,omitempty"`
}

// Outcome is an expected per-document result. It matches when a result
// with the same document, phase and outcome exists.
type Outcome struct {
	Document string `yaml:"document"`
	Phase    string `yaml:"phase"`
	Outcome  string `yaml:"outcome"`
}

// Assertion validates final wiki state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Document  string `yaml:"document,omitempty"`
	Page      string `yaml:"page,omitempty"`
	AddedBy   string `yaml:"added_by,omitempty"`
	AddedAt   string `yaml:"added_at,omitempty"`
	RemovedBy string `yaml:"removed_by,omitempty"`
	Open      *bool  `yaml:"open,omitempty"`
	Text      string `yaml:"text,omitempty"`
	Count     int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertLedgerEntry  = "ledger_entry"
	AssertLedgerAbsent = "ledger_absent"
	AssertPageContains = "page_contains"
	AssertPageLacks    = "page_lacks"
	AssertWriteCount   = "write_count"
)

// Failure operation names, matching the in-memory wiki.
var validOps = map[string]bool{
	"lookup": true, "text": true, "history": true, "latest": true, "read": true, "write": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Now.IsZero() {
		return fmt.Errorf("now is required")
	}
	if len(s.Cycles) == 0 {
		return fmt.Errorf("cycles list is required and must be non-empty")
	}

	for i, doc := range s.Setup.Documents {
		if doc.Title == "" {
			return fmt.Errorf("setup.documents[%d]: title is required", i)
		}
		if len(doc.Revisions) == 0 {
			return fmt.Errorf("setup.documents[%d]: at least one revision is required", i)
		}
	}
	for i, p := range s.Setup.Pages {
		if p.Title == "" {
			return fmt.Errorf("setup.pages[%d]: title is required", i)
		}
	}

	for i, c := range s.Cycles {
		if c.Advance < 0 {
			return fmt.Errorf("cycles[%d]: advance must not be negative", i)
		}
		for j, e := range c.Edits {
			if e.Title == "" {
				return fmt.Errorf("cycles[%d].edits[%d]: title is required", i, j)
			}
		}
		for j, f := range c.Failures {
			if !validOps[f.Op] {
				return fmt.Errorf("cycles[%d].failures[%d]: unknown op %q", i, j, f.Op)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertLedgerEntry, AssertLedgerAbsent:
		if a.Document == "" {
			return fmt.Errorf("assertions[%d]: document is required for %s", index, a.Type)
		}
	case AssertPageContains, AssertPageLacks:
		if a.Page == "" || a.Text == "" {
			return fmt.Errorf("assertions[%d]: page and text are required for %s", index, a.Type)
		}
	case AssertWriteCount:
		if a.Page == "" {
			return fmt.Errorf("assertions[%d]: page is required for write_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for write_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
